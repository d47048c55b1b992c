package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/c360/v2xstreams/errors"
)

// object is one level of a capture document. Capture leaves are strings,
// even for numbers, so every accessor parses.
type object map[string]any

// scaling converts a raw wire integer to its physical unit: raw / divisor * factor
type scaling struct {
	divisor decimal.Decimal
	factor  decimal.Decimal
}

func newScaling(divisor, factor float64) scaling {
	return scaling{divisor: decimal.NewFromFloat(divisor), factor: decimal.NewFromFloat(factor)}
}

// Scaling contracts of the ITS encoding
var (
	scaleCoordinate = newScaling(10_000_000, 1) // 1/10 microdegree -> degree
	scaleAltitude   = newScaling(100, 1)        // cm -> m
	scaleElevation  = newScaling(10, 1)         // dm -> m
	scaleDimension  = newScaling(10, 1)         // dm -> m
	scaleHeading    = newScaling(10, 1)         // 0.1 degree -> degree
	scaleSpeed      = newScaling(100, 3.6)      // cm/s -> km/h
	scaleLaneWidth  = newScaling(100, 1)        // cm -> m
)

// maxExponent bounds the decimal exponent of a leaf. Wire values are
// integers; an exponent beyond this overflows the scaling division.
const maxExponent = 64

func (s scaling) apply(raw decimal.Decimal) float64 {
	return raw.Div(s.divisor).Mul(s.factor).InexactFloat64()
}

func missing(key string) error {
	return fmt.Errorf("%w: %s", errors.ErrMissingField, key)
}

func wrongType(key string, v any) error {
	return fmt.Errorf("%w: %s is %T", errors.ErrFieldType, key, v)
}

// child returns a required nested object
func (o object) child(key string) (object, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, missing(key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, wrongType(key, v)
	}
	return object(m), nil
}

// optChild returns a nested object or nil when absent
func (o object) optChild(key string) object {
	m, _ := o[key].(map[string]any)
	return object(m)
}

// path walks required nested objects
func (o object) path(keys ...string) (object, error) {
	cur := o
	for _, k := range keys {
		next, err := cur.child(k)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// optPath walks nested objects, nil if any level is absent
func (o object) optPath(keys ...string) object {
	cur := o
	for _, k := range keys {
		if cur == nil {
			return nil
		}
		cur = cur.optChild(k)
	}
	return cur
}

func (o object) has(key string) bool {
	if o == nil {
		return false
	}
	v, ok := o[key]
	return ok && v != nil
}

// leaf returns the textual form of a scalar
func (o object) leaf(key string) (string, error) {
	if o == nil {
		return "", missing(key)
	}
	v, ok := o[key]
	if !ok || v == nil {
		return "", missing(key)
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", wrongType(key, v)
	}
}

func (o object) str(key string) (string, error) {
	return o.leaf(key)
}

// optStr returns the string or def when absent
func (o object) optStr(key, def string) string {
	v, err := o.leaf(key)
	if err != nil {
		return def
	}
	return v
}

func (o object) number(key string) (decimal.Decimal, error) {
	raw, err := o.leaf(key)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.Exponent() > maxExponent || d.Exponent() < -maxExponent {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", errors.ErrFieldType, key, raw)
	}
	return d, nil
}

func (o object) long(key string) (int64, error) {
	raw, err := o.leaf(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errors.ErrFieldType, key, raw)
	}
	return v, nil
}

func (o object) integer(key string) (int, error) {
	v, err := o.long(key)
	return int(v), err
}

// optInt returns nil when the field is absent or not an integer
func (o object) optInt(key string) *int {
	v, err := o.integer(key)
	if err != nil {
		return nil
	}
	return &v
}

func (o object) float(key string) (float64, error) {
	d, err := o.number(key)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// scaled parses a raw value and applies a scaling contract
func (o object) scaled(key string, s scaling) (float64, error) {
	d, err := o.number(key)
	if err != nil {
		return 0, err
	}
	return s.apply(d), nil
}

// optScaled returns nil when the field is absent or unparseable
func (o object) optScaled(key string, s scaling) *float64 {
	v, err := o.scaled(key, s)
	if err != nil {
		return nil
	}
	return &v
}

// flag reads a capture bit as a boolean
func (o object) flag(key string) bool {
	v, err := o.leaf(key)
	return err == nil && v == "1"
}

// items iterates a capture list: a count field and an "Item N" tree
func (o object) items(countKey, treeKey string, fn func(i int, item object) error) error {
	count, err := o.integer(countKey)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	tree, err := o.child(treeKey)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		item, err := tree.child(fmt.Sprintf("Item %d", i))
		if err != nil {
			return err
		}
		if err := fn(i, item); err != nil {
			return err
		}
	}
	return nil
}

// optItems is items for lists whose count may be absent
func (o object) optItems(countKey, treeKey string, fn func(i int, item object) error) error {
	if !o.has(countKey) {
		return nil
	}
	return o.items(countKey, treeKey, fn)
}

// intOrZero returns the integer or zero when absent
func (o object) intOrZero(key string) int {
	v, err := o.integer(key)
	if err != nil {
		return 0
	}
	return v
}

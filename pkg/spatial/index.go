// Package spatial keeps an R-tree of entity positions so the query API can
// answer bounding box and nearest-neighbour lookups without scanning the
// store.
package spatial

import (
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/pkg/geo"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// pointTolerance is the half-size, in degrees, of the box stored per point
const pointTolerance = 1e-9

// DefaultTypes are the protocols placed in the index
var DefaultTypes = []message.Type{message.TypeCAM, message.TypeDENM, message.TypeMAPEM}

// Hit is one entity returned by a query
type Hit struct {
	Type           message.Type `json:"message_type"`
	Key            string       `json:"key"`
	Position       geo.Position `json:"position"`
	DistanceMeters float64      `json:"distance_m,omitempty"`
}

type itemKey struct {
	typ message.Type
	key string
}

type item struct {
	itemKey
	pos  geo.Position
	rect rtreego.Rect
}

func (i *item) Bounds() rtreego.Rect { return i.rect }

// BBox is a lon/lat box in degrees
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Validate rejects inverted or out of range boxes
func (b BBox) Validate() error {
	switch {
	case b.MinLon > b.MaxLon || b.MinLat > b.MaxLat:
		return errors.WrapInvalid(errors.ErrInvalidData, "spatial", "Validate", "check bbox order")
	case b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90:
		return errors.WrapInvalid(errors.ErrInvalidData, "spatial", "Validate", "check bbox range")
	}
	return nil
}

// Index is a store listener maintaining positions of the indexed types.
// It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	items   map[itemKey]*item
	indexed map[message.Type]bool
}

var _ messagestore.Listener = (*Index)(nil)

// New creates an index over types, or DefaultTypes when none are given
func New(types ...message.Type) *Index {
	if len(types) == 0 {
		types = DefaultTypes
	}
	indexed := make(map[message.Type]bool, len(types))
	for _, t := range types {
		indexed[t] = true
	}
	return &Index{
		tree:    rtreego.NewTree(2, 25, 50),
		items:   make(map[itemKey]*item),
		indexed: indexed,
	}
}

// OnInsertOrUpdate implements messagestore.Listener. An entity that lost
// its position leaves the index.
func (x *Index) OnInsertOrUpdate(msg message.Message) {
	if !x.indexed[msg.Type()] {
		return
	}
	loc, ok := msg.(message.Locatable)
	if !ok {
		return
	}
	lat, lon, ok := loc.Location()
	if !ok {
		x.Remove(msg.Type(), msg.Key())
		return
	}
	pos := geo.Position{Lat: lat, Lon: lon}
	if h := msg.Header(); h.OriginPosition != nil {
		pos.Alt = h.OriginPosition.Alt
	}
	x.Upsert(msg.Type(), msg.Key(), pos)
}

// OnRemove implements messagestore.Listener
func (x *Index) OnRemove(msg message.Message) {
	x.Remove(msg.Type(), msg.Key())
}

// Upsert places or moves an entity
func (x *Index) Upsert(t message.Type, key string, pos geo.Position) {
	x.mu.Lock()
	defer x.mu.Unlock()

	k := itemKey{typ: t, key: key}
	if old, ok := x.items[k]; ok {
		if old.pos.Lat == pos.Lat && old.pos.Lon == pos.Lon {
			old.pos = pos
			return
		}
		x.tree.Delete(old)
	}

	it := &item{
		itemKey: k,
		pos:     pos,
		rect:    rtreego.Point{pos.Lon, pos.Lat}.ToRect(pointTolerance),
	}
	x.tree.Insert(it)
	x.items[k] = it
}

// Remove drops an entity. Unknown entities are ignored.
func (x *Index) Remove(t message.Type, key string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	k := itemKey{typ: t, key: key}
	if old, ok := x.items[k]; ok {
		x.tree.Delete(old)
		delete(x.items, k)
	}
}

// Len returns the number of indexed entities
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// Within returns the entities inside box, optionally restricted to types,
// ordered by type then key
func (x *Index) Within(box BBox, types ...message.Type) ([]Hit, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}

	lengths := []float64{
		math.Max(box.MaxLon-box.MinLon, pointTolerance),
		math.Max(box.MaxLat-box.MinLat, pointTolerance),
	}
	rect, err := rtreego.NewRect(rtreego.Point{box.MinLon, box.MinLat}, lengths)
	if err != nil {
		return nil, errors.WrapInvalid(err, "spatial", "Within", "build search rect")
	}

	x.mu.RLock()
	found := x.tree.SearchIntersect(rect, typeFilter(types))
	x.mu.RUnlock()

	hits := make([]Hit, 0, len(found))
	for _, s := range found {
		it := s.(*item)
		hits = append(hits, Hit{Type: it.typ, Key: it.key, Position: it.pos})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Type != hits[j].Type {
			return typeOrder(hits[i].Type) < typeOrder(hits[j].Type)
		}
		return hits[i].Key < hits[j].Key
	})
	return hits, nil
}

// Nearest returns up to k entities closest to the point, nearest first,
// with great-circle distances
func (x *Index) Nearest(lat, lon float64, k int, types ...message.Type) []Hit {
	if k <= 0 {
		return nil
	}
	origin := geo.Position{Lat: lat, Lon: lon}

	x.mu.RLock()
	// The tree ranks by planar degrees; over-fetch so the haversine order
	// below can correct for longitude compression away from the equator.
	found := x.tree.NearestNeighbors(2*k, rtreego.Point{lon, lat}, typeFilter(types))
	x.mu.RUnlock()

	hits := make([]Hit, 0, len(found))
	for _, s := range found {
		if s == nil {
			continue
		}
		it := s.(*item)
		hits = append(hits, Hit{
			Type:           it.typ,
			Key:            it.key,
			Position:       it.pos,
			DistanceMeters: geo.DistanceMeters(origin, it.pos),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].DistanceMeters < hits[j].DistanceMeters })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func typeFilter(types []message.Type) rtreego.Filter {
	if len(types) == 0 {
		return func([]rtreego.Spatial, rtreego.Spatial) (bool, bool) { return false, false }
	}
	allowed := make(map[message.Type]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return func(_ []rtreego.Spatial, obj rtreego.Spatial) (refuse, abort bool) {
		return !allowed[obj.(*item).typ], false
	}
}

func typeOrder(t message.Type) int {
	for i, known := range message.Types {
		if known == t {
			return i
		}
	}
	return len(message.Types)
}

// Package message defines the typed V2X entities produced by the decoder and
// held by the message store: CAM, DENM, MAPEM, SPATEM, SREM and SSEM.
//
// Entities reference each other only through keys. The store owns every
// entity; a link is resolved through the store and cleared when the linked
// entity is evicted.
package message

import (
	"fmt"
	"strings"

	"github.com/c360/v2xstreams/pkg/geo"
)

// Type names a V2X protocol
type Type string

// Supported protocols
const (
	TypeDENM   Type = "DENM"
	TypeCAM    Type = "CAM"
	TypeSPATEM Type = "SPATEM"
	TypeMAPEM  Type = "MAPEM"
	TypeSREM   Type = "SREM"
	TypeSSEM   Type = "SSEM"
)

// Types lists every protocol in store iteration order
var Types = []Type{TypeDENM, TypeCAM, TypeSPATEM, TypeMAPEM, TypeSREM, TypeSSEM}

var typesByMessageID = map[int]Type{
	1:  TypeDENM,
	2:  TypeCAM,
	4:  TypeSPATEM,
	5:  TypeMAPEM,
	9:  TypeSREM,
	10: TypeSSEM,
}

// TypeForMessageID maps the ITS PDU header messageID to a protocol
func TypeForMessageID(id int) (Type, bool) {
	t, ok := typesByMessageID[id]
	return t, ok
}

// ParseType accepts a protocol name in any case
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// Base holds the fields shared by all protocols
type Base struct {
	MessageID      int           `json:"message_id"`
	StationID      int64         `json:"station_id"`
	StationType    *int          `json:"station_type,omitempty"`
	OriginPosition *geo.Position `json:"origin_position,omitempty"`

	// Modified means "seen since the last sweep"
	Modified bool `json:"-"`
}

// Header gives the store access to the shared fields
func (b *Base) Header() *Base { return b }

// Location implements Locatable for entities with a known position
func (b *Base) Location() (lat, lon float64, ok bool) {
	if b.OriginPosition == nil {
		return 0, 0, false
	}
	return b.OriginPosition.Lat, b.OriginPosition.Lon, true
}

// Message is implemented by every decoded entity
type Message interface {
	// Type returns the protocol
	Type() Type
	// Key returns the identity key, unique within the type
	Key() string
	// Header returns the shared fields
	Header() *Base
	// Prepare computes derived geometry. It is pure and runs before the
	// entity reaches the store.
	Prepare()
	// Clone returns a copy safe to hand to event listeners
	Clone() Message
}

// Locatable is implemented by entities that can be placed on a map
type Locatable interface {
	Location() (lat, lon float64, ok bool)
}

// DenmKey identifies a DENM
type DenmKey struct {
	StationID      int64 `json:"station_id"`
	SequenceNumber int   `json:"sequence_number"`
}

func (k DenmKey) String() string {
	return fmt.Sprintf("%d/%d", k.StationID, k.SequenceNumber)
}

// SremKey identifies a SREM: the sender and the intersection of its first request
type SremKey struct {
	StationID      int64 `json:"station_id"`
	IntersectionID int64 `json:"intersection_id"`
}

func (k SremKey) String() string {
	return fmt.Sprintf("%d/%d", k.StationID, k.IntersectionID)
}

// SpatemRef points at one intersection inside a SPATEM
type SpatemRef struct {
	StationID      int64 `json:"station_id"`
	IntersectionID int64 `json:"intersection_id"`
}

func stationKey(id int64) string {
	return fmt.Sprintf("%d", id)
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v
func FloatPtr(v float64) *float64 { return &v }

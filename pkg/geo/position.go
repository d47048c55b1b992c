// Package geo is the geometry kernel: chained offset resolution, bearings,
// maneuver classification and conversion to orb geometries. Everything here
// is pure and safe for concurrent use.
package geo

import (
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Scaling factors of the ITS wire encoding
const (
	// CoordinateScale converts 1/10 microdegree units to degrees
	CoordinateScale = 10_000_000
	// AltitudeScale converts centimetres to metres
	AltitudeScale = 100
)

// Position is an absolute WGS84 position in degrees and metres
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Offset is a relative displacement in raw wire units: latitude and
// longitude in 1/10 microdegrees, altitude in centimetres.
type Offset struct {
	DLat int64 `json:"delta_lat"`
	DLon int64 `json:"delta_lon"`
	DAlt int64 `json:"delta_alt"`
}

// Point returns the position as an orb point (lon, lat)
func (p Position) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// LineString converts a resolved path to an orb line string
func LineString(path []Position) orb.LineString {
	ls := make(orb.LineString, len(path))
	for i, p := range path {
		ls[i] = p.Point()
	}
	return ls
}

// DistanceMeters returns the great-circle distance between two positions
func DistanceMeters(a, b Position) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point())
}

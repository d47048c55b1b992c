package geo

import (
	"github.com/shopspring/decimal"
)

const coordinatePrecision = 7

var coordinateDivisor = decimal.NewFromInt(CoordinateScale)

// ResolveChain turns relative offsets into absolute positions. Offset i is
// applied to the position resolved for offset i-1, the first one to ref.
// Latitude and longitude accumulate in decimal so long chains do not drift.
func ResolveChain(ref Position, offsets []Offset) []Position {
	if len(offsets) == 0 {
		return nil
	}

	lat := decimal.NewFromFloat(ref.Lat)
	lon := decimal.NewFromFloat(ref.Lon)
	alt := ref.Alt

	out := make([]Position, 0, len(offsets))
	for _, o := range offsets {
		lat = lat.Add(scaleCoordinate(o.DLat))
		lon = lon.Add(scaleCoordinate(o.DLon))
		alt += float64(o.DAlt) / AltitudeScale

		out = append(out, Position{
			Lat: lat.InexactFloat64(),
			Lon: lon.InexactFloat64(),
			Alt: alt,
		})
	}
	return out
}

// ResolveNodes resolves intersection lane nodes (x east, y north, in
// 1/10 microdegrees) against the intersection reference point.
func ResolveNodes(ref Position, nodes []Node) []Position {
	offsets := make([]Offset, len(nodes))
	for i, n := range nodes {
		offsets[i] = Offset{DLat: n.Y, DLon: n.X}
	}
	return ResolveChain(ref, offsets)
}

// Node is one lane node offset as carried by MAPEM
type Node struct {
	X     int64 `json:"x"`
	Y     int64 `json:"y"`
	Delta int   `json:"delta"`
}

func scaleCoordinate(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).DivRound(coordinateDivisor, coordinatePrecision)
}

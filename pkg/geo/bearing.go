package geo

import (
	"math"
)

// NoBearing is returned when a bearing cannot be computed
const NoBearing = 999.0

// Bearing returns the compass bearing, in [0, 360), of the vector pointing
// from `from` to `to`, measured clockwise from true north.
func Bearing(to, from Position) float64 {
	dx := to.Lon - from.Lon
	dy := to.Lat - from.Lat

	magnitude := math.Hypot(dx, dy)
	if magnitude == 0 {
		return NoBearing
	}

	cosTheta := math.Max(-1, math.Min(1, dy/magnitude))
	deg := math.Mod(math.Acos(cosTheta)*180/math.Pi+360, 360)

	// acos only covers a half circle
	if to.Lon < from.Lon {
		deg = math.Mod(360-deg, 360)
	}
	return deg
}

// PathBearing returns the bearing from path[1] to path[0], the approach
// direction of a lane whose first node is the stop line.
func PathBearing(path []Position) float64 {
	if len(path) < 2 {
		return NoBearing
	}
	return Bearing(path[0], path[1])
}

// AngleWithin reports whether angle lies within tolerance degrees of target
// on the circle. NoBearing never matches.
func AngleWithin(target, angle, tolerance float64) bool {
	if angle == NoBearing || target == NoBearing {
		return false
	}
	d := math.Mod(math.Abs(target-angle), 360)
	if d > 180 {
		d = 360 - d
	}
	return d <= tolerance
}

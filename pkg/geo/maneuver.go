package geo

import (
	"encoding/json"
	"fmt"
)

// Maneuver is the combined set of movements a signal group allows
type Maneuver int

// Order matters: signal groups are presented sorted by this value
const (
	ManeuverLeft Maneuver = iota
	ManeuverLeftStraight
	ManeuverStraight
	ManeuverRightStraight
	ManeuverRight
	ManeuverLeftRight
	ManeuverAll
	ManeuverUnknown
)

var maneuverNames = [...]string{
	"LEFT", "LEFT_STRAIGHT", "STRAIGHT", "RIGHT_STRAIGHT",
	"RIGHT", "LEFT_RIGHT", "ALL", "UNKNOWN",
}

func (m Maneuver) String() string {
	if m < 0 || int(m) >= len(maneuverNames) {
		return "UNKNOWN"
	}
	return maneuverNames[m]
}

// MarshalJSON encodes the maneuver by name
func (m Maneuver) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a maneuver name
func (m *Maneuver) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range maneuverNames {
		if name == s {
			*m = Maneuver(i)
			return nil
		}
	}
	return fmt.Errorf("unknown maneuver %q", s)
}

// ClassifyManeuver maps OR-ed allowed-maneuver flags to a Maneuver
func ClassifyManeuver(left, straight, right bool) Maneuver {
	switch {
	case left && right && straight:
		return ManeuverAll
	case left && right:
		return ManeuverLeftRight
	case left && straight:
		return ManeuverLeftStraight
	case right && straight:
		return ManeuverRightStraight
	case straight:
		return ManeuverStraight
	case left:
		return ManeuverLeft
	case right:
		return ManeuverRight
	default:
		return ManeuverUnknown
	}
}

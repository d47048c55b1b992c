package message

// Description tables for coded fields. Codes outside a table map to the
// table's fallback text.

var vehicleRoles = []string{
	"Default",
	"Public Transport",
	"Special Transport",
	"Dangerous Goods Transport",
	"Road Work Vehicle",
	"Rescue Vehicle",
	"Emergency Vehicle",
	"Safety Car (Police)",
	"Agricultural Vehicle",
	"Commercial Goods Transport",
	"Military Vehicle",
	"Road Operator Vehicle",
	"Taxi",
}

// VehicleRoleName describes a CAM vehicle role
func VehicleRoleName(role *int) string {
	if role == nil || *role < 0 || *role >= len(vehicleRoles) {
		return "Unknown"
	}
	return vehicleRoles[*role]
}

var stationTypes = map[int]string{
	1:  "pedestrian",
	2:  "cyclist",
	3:  "moped",
	4:  "motorbike",
	5:  "passenger car",
	6:  "bus",
	7:  "light truck",
	8:  "heavy truck",
	10: "special vehicle",
	11: "tram",
	15: "roadside unit",
}

// StationTypeName describes an ITS station type
func StationTypeName(stationType *int) string {
	if stationType == nil {
		return "unknown"
	}
	if name, ok := stationTypes[*stationType]; ok {
		return name
	}
	return "unknown"
}

type causeCode struct {
	description string
	subCauses   map[int]string
}

var causeCodes = map[int]causeCode{
	0: {"No specific information", nil},
	1: {"Traffic condition", map[int]string{
		2: "Traffic jam slowly increasing",
		3: "Traffic jam increasing",
		4: "Traffic jam strongly increasing",
		5: "Traffic stationary",
		6: "Traffic jam slightly decreasing",
		7: "Traffic jam decreasing",
		8: "Traffic jam strongly decreasing",
	}},
	2: {"Accident", nil},
	3: {"Roadworks", map[int]string{
		4: "Short-term stationary roadWorks",
		5: "Street cleaning",
		6: "Winter service",
	}},
	6:  {"Adverse Weather Condition - Adhesion", nil},
	9:  {"Hazardous Location - Surface Condition", nil},
	10: {"Hazardous Location - Obstacle On The Road", nil},
	11: {"Hazardous Location - Animal On The Road", nil},
	12: {"Human Presence On The Road", nil},
	14: {"Wrong Way Driving", map[int]string{
		1: "Vehicle driving in the wrong lane",
		2: "Vehicle driving in the wrong driving direction",
	}},
	15: {"Rescue And Recovery Work In Progress", nil},
	17: {"Adverse Weather Condition - Extreme Weather Condition", nil},
	19: {"Adverse Weather Condition - Precipitation", nil},
	26: {"Slow Vehicle", nil},
	27: {"Dangerous End Of Queue", nil},
	91: {"Vehicle Breakdown", map[int]string{
		1: "Lack of fuel",
		2: "Lack of battery",
		3: "Engine problem",
		4: "Transmission problem",
		5: "Engine cooling problem",
		6: "Braking system problem",
		7: "Steering problem",
		8: "Tyre puncture",
	}},
	92: {"Post Crash", map[int]string{
		1: "Accident without e-Call triggered",
		2: "Accident with e-Call manually triggered",
		3: "Accident with e-Call automatically triggered",
		4: "Accident with e-Call triggered without possible access to a cell network",
	}},
	93: {"Human Problem", map[int]string{
		1: "Hypoglycemia problem",
		2: "Heart problem",
	}},
	94: {"Stationary Vehicle", map[int]string{
		1: "Human Problem",
		2: "Vehicle breakdown",
		3: "Post crash",
		4: "On public transport stop",
		5: "Carrying dangerous goods",
	}},
	95: {"Emergency Vehicle Approaching", map[int]string{
		1: "Emergency vehicle approaching",
		2: "Prioritized vehicle approaching",
	}},
	96: {"Hazardous Location - Dangerous Curve", map[int]string{
		1: "Dangerous left turn curve",
		2: "Dangerous right turn curve",
		3: "Multiple curves starting with unknown turning direction",
		4: "Multiple curves starting with left turn",
		5: "Multiple curves starting with right turn",
	}},
	97: {"Collision Risk", map[int]string{
		1: "Longitudinal collision risk",
		2: "Crossing collision risk",
		3: "Lateral collision risk",
		4: "Collision risk involving vulnerable road user",
	}},
	98: {"Signal Violation", map[int]string{
		1: "Stop sign violation",
		2: "Traffic light violation",
		3: "Turning regulation violation",
	}},
	99: {"Dangerous Situation", map[int]string{
		1: "Emergency electronic brake lights",
		2: "Pre-crash system activated",
		3: "ESP (Electronic Stability Program) activated",
		4: "ABS (Anti-lock braking system) activated",
		5: "AEB (Automatic Emergency Braking) activated",
		6: "Brake warning activated",
		7: "Collision risk warning activated",
	}},
}

// CauseDescription describes a DENM cause code
func CauseDescription(cause int) string {
	if c, ok := causeCodes[cause]; ok {
		return c.description
	}
	return "Unknown"
}

// SubCauseDescription describes a DENM sub-cause, empty when unknown
func SubCauseDescription(cause, subCause int) string {
	return causeCodes[cause].subCauses[subCause]
}

var laneTypes = []string{
	"Vehicle",
	"CrossWalk",
	"BikeLane",
	"Unknown",
	"Unknown",
	"Unknown",
	"TrackedVehicle",
	"Parking",
}

// LaneTypeName describes a MAPEM lane type
func LaneTypeName(laneType int) string {
	if laneType < 0 || laneType >= len(laneTypes) {
		return "Unknown"
	}
	return laneTypes[laneType]
}

var eventStates = []string{
	"Unavailable",
	"Dark",
	"Stop-Then-Proceed",
	"Stop-And-Remain",
	"Pre-Movement",
	"Permissive-Movement-Allowed",
	"Protected-Movement-Allowed",
	"Permissive-clearance",
	"Protected-clearance",
	"Caution-Conflicting-Traffic",
}

// EventStateName describes a SPATEM movement phase state, empty when unknown
func EventStateName(state int) string {
	if state < 0 || state >= len(eventStates) {
		return ""
	}
	return eventStates[state]
}

// StateColor is the signal head colour shown for a movement phase state
type StateColor string

// Signal colours
const (
	ColorRed      StateColor = "RED"
	ColorAmber    StateColor = "AMBER"
	ColorRedAmber StateColor = "RED_AMBER"
	ColorGreen    StateColor = "GREEN"
	ColorOff      StateColor = "OFF"
	ColorUnknown  StateColor = "UNKNOWN"
)

// ColorForState maps a movement phase state to its colour
func ColorForState(state int) StateColor {
	switch {
	case state == 0 || state == 1:
		return ColorOff
	case state == 2 || state == 3:
		return ColorRed
	case state == 4:
		return ColorRedAmber
	case state == 5 || state == 6:
		return ColorGreen
	case state >= 7 && state <= 9:
		return ColorAmber
	default:
		return ColorUnknown
	}
}

// Label returns the human readable colour
func (c StateColor) Label() string {
	switch c {
	case ColorRed:
		return "Red"
	case ColorRedAmber:
		return "Red and amber"
	case ColorAmber:
		return "Amber"
	case ColorGreen:
		return "Green"
	case ColorOff:
		return "Off"
	default:
		return "Unknown"
	}
}

var requestTypes = []string{
	"Request reserved",
	"Request",
	"Request update",
	"Cancellation",
}

// RequestTypeName describes a SREM request type
func RequestTypeName(requestType int) string {
	if requestType < 0 || requestType >= len(requestTypes) {
		return "Unknown"
	}
	return requestTypes[requestType]
}

var responseStatuses = []string{
	"Unknown",
	"Requested",
	"Processing",
	"Watch Other Traffic",
	"Granted",
	"Denied",
	"Processing time exc.",
	"Service locked",
}

// ResponseStatusName describes a SSEM prioritization response status
func ResponseStatusName(status int) string {
	if status < 0 || status >= len(responseStatuses) {
		return "Unknown"
	}
	return responseStatuses[status]
}

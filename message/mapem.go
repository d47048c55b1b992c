package message

import (
	"fmt"
	"sort"

	"github.com/c360/v2xstreams/pkg/geo"
)

// LaneTypeVehicle is the MAPEM lane type of vehicle lanes
const LaneTypeVehicle = 0

// ApproachTolerance is the bearing tolerance, in degrees, used to pick the
// signal groups that face an approaching vehicle.
const ApproachTolerance = 30.0

// ConnectingLane is one connection from a lane through the intersection
type ConnectingLane struct {
	Lane         int  `json:"lane"`
	ConnectionID int  `json:"connection_id"`
	SignalGroup  int  `json:"signal_group"`
	Straight     bool `json:"straight"`
	Left         bool `json:"left"`
	Right        bool `json:"right"`
}

// Lane is one generic lane of an intersection
type Lane struct {
	LaneID          int64            `json:"lane_id"`
	Type            int              `json:"type"`
	TypeName        string           `json:"type_name"`
	IngressApproach *int             `json:"ingress_approach,omitempty"`
	EgressApproach  *int             `json:"egress_approach,omitempty"`
	Ingress         bool             `json:"ingress"`
	Egress          bool             `json:"egress"`
	Nodes           []geo.Node       `json:"nodes"`
	Connections     []ConnectingLane `json:"connections,omitempty"`

	// Shape is the node list resolved against the intersection reference
	Shape []geo.Position `json:"shape,omitempty"`
}

// SignalGroup is the compact view of all ingress vehicle lanes sharing one
// signal group, positioned at the stop line of the first such lane.
type SignalGroup struct {
	ID          string       `json:"id"`
	SignalGroup int          `json:"signal_group"`
	Maneuver    geo.Maneuver `json:"maneuver"`
	Position    geo.Position `json:"position"`
	Bearing     float64      `json:"bearing"`
}

// MAPEM is the geometry of one intersection, keyed by intersection id
type MAPEM struct {
	Base

	IntersectionID int64   `json:"intersection_id"`
	Name           string  `json:"name"`
	LaneWidth      float64 `json:"lane_width_m"`
	Lanes          []Lane  `json:"lanes"`

	SignalGroups []SignalGroup `json:"signal_groups,omitempty"`
	LatestSpatem *SpatemRef    `json:"latest_spatem,omitempty"`
}

var _ Message = (*MAPEM)(nil)

// Type implements Message
func (m *MAPEM) Type() Type { return TypeMAPEM }

// Key implements Message
func (m *MAPEM) Key() string { return stationKey(m.IntersectionID) }

// Clone implements Message
func (m *MAPEM) Clone() Message {
	cp := *m
	return &cp
}

// Prepare resolves lane shapes and derives the signal groups
func (m *MAPEM) Prepare() {
	m.SignalGroups = nil
	if m.OriginPosition == nil {
		return
	}
	ref := *m.OriginPosition

	lanes := make([]Lane, len(m.Lanes))
	for i, lane := range m.Lanes {
		lane.Shape = geo.ResolveNodes(ref, lane.Nodes)
		lanes[i] = lane
	}
	m.Lanes = lanes

	m.SignalGroups = deriveSignalGroups(m.IntersectionID, ref, lanes)
}

type signalLaneInfo struct {
	laneID                int64
	shape                 []geo.Position
	left, straight, right bool
}

func deriveSignalGroups(intersectionID int64, ref geo.Position, lanes []Lane) []SignalGroup {
	var order []int
	groups := make(map[int]*signalLaneInfo)

	for _, lane := range lanes {
		if !lane.Ingress || lane.Type != LaneTypeVehicle {
			continue
		}
		for _, conn := range lane.Connections {
			info, ok := groups[conn.SignalGroup]
			if !ok {
				info = &signalLaneInfo{laneID: lane.LaneID, shape: lane.Shape}
				groups[conn.SignalGroup] = info
				order = append(order, conn.SignalGroup)
			}
			info.left = info.left || conn.Left
			info.straight = info.straight || conn.Straight
			info.right = info.right || conn.Right
		}
	}

	out := make([]SignalGroup, 0, len(order))
	for _, sg := range order {
		info := groups[sg]
		position := ref
		if len(info.shape) > 0 {
			position = info.shape[0]
		}
		out = append(out, SignalGroup{
			ID:          fmt.Sprintf("%d%d", intersectionID, info.laneID),
			SignalGroup: sg,
			Maneuver:    geo.ClassifyManeuver(info.left, info.straight, info.right),
			Position:    position,
			Bearing:     geo.PathBearing(info.shape),
		})
	}
	return out
}

// SignalsToward returns the signal groups whose approach bearing is within
// tolerance of bearing, ordered by maneuver.
func (m *MAPEM) SignalsToward(bearing, tolerance float64) []SignalGroup {
	var out []SignalGroup
	for _, sg := range m.SignalGroups {
		if geo.AngleWithin(bearing, sg.Bearing, tolerance) {
			out = append(out, sg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Maneuver < out[j].Maneuver
	})
	return out
}

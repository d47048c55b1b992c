package message

import (
	"github.com/c360/v2xstreams/pkg/geo"
)

// VehicleLights is the CAM exterior lights bit string
type VehicleLights struct {
	LowBeamHeadlights  bool `json:"low_beam_headlights"`
	HighBeamHeadlights bool `json:"high_beam_headlights"`
	LeftTurnSignal     bool `json:"left_turn_signal"`
	RightTurnSignal    bool `json:"right_turn_signal"`
	DaytimeRunning     bool `json:"daytime_running"`
	Reverse            bool `json:"reverse"`
	Fog                bool `json:"fog"`
	Parking            bool `json:"parking"`
}

// CAM is the last known state of one vehicle, keyed by station id
type CAM struct {
	Base

	Speed         *float64       `json:"speed_kmh,omitempty"`
	Heading       *float64       `json:"heading_deg,omitempty"`
	VehicleLength *float64       `json:"vehicle_length_m,omitempty"`
	VehicleWidth  *float64       `json:"vehicle_width_m,omitempty"`
	VehicleRole   *int           `json:"vehicle_role,omitempty"`
	Lights        *VehicleLights `json:"lights,omitempty"`
	TimeEpoch     float64        `json:"time_epoch"`

	// Path history in raw offsets and resolved against the origin
	Path         []geo.Offset   `json:"path,omitempty"`
	ResolvedPath []geo.Position `json:"resolved_path,omitempty"`

	LatestDenm *DenmKey `json:"latest_denm,omitempty"`
	LatestSrem *SremKey `json:"latest_srem,omitempty"`
}

var _ Message = (*CAM)(nil)

// Type implements Message
func (c *CAM) Type() Type { return TypeCAM }

// Key implements Message
func (c *CAM) Key() string { return stationKey(c.StationID) }

// RoleName describes the vehicle role
func (c *CAM) RoleName() string { return VehicleRoleName(c.VehicleRole) }

// Prepare resolves the path history against the reference position
func (c *CAM) Prepare() {
	c.ResolvedPath = nil
	if c.OriginPosition == nil {
		return
	}
	c.ResolvedPath = geo.ResolveChain(*c.OriginPosition, c.Path)
}

// Clone implements Message
func (c *CAM) Clone() Message {
	cp := *c
	return &cp
}

// Merge applies a newer CAM of the same station. Optional fields only
// overwrite when present; position and path are always replaced. Links
// are kept.
func (c *CAM) Merge(other *CAM) {
	c.MessageID = other.MessageID
	c.OriginPosition = other.OriginPosition
	if other.StationType != nil {
		c.StationType = other.StationType
	}
	if other.Speed != nil {
		c.Speed = other.Speed
	}
	if other.Heading != nil {
		c.Heading = other.Heading
	}
	if other.VehicleLength != nil {
		c.VehicleLength = other.VehicleLength
	}
	if other.VehicleWidth != nil {
		c.VehicleWidth = other.VehicleWidth
	}
	if other.VehicleRole != nil {
		c.VehicleRole = other.VehicleRole
	}
	if other.Lights != nil {
		c.Lights = other.Lights
	}
	c.Path = other.Path
	c.ResolvedPath = other.ResolvedPath
	c.TimeEpoch = other.TimeEpoch
}

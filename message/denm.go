package message

import (
	"github.com/c360/v2xstreams/pkg/geo"
)

// DENM is one hazard event, keyed by sender station and action sequence number
type DENM struct {
	Base

	OriginatingStationID int64 `json:"originating_station_id"`
	SequenceNumber       int   `json:"sequence_number"`
	DetectionTime        int64 `json:"detection_time"`
	ReferenceTime        int64 `json:"reference_time"`
	Termination          bool  `json:"termination"`
	CauseCode            int   `json:"cause_code"`
	SubCauseCode         int   `json:"sub_cause_code"`

	// Traces hold raw path point offsets; ResolvedTraces the absolute points
	Traces         [][]geo.Offset   `json:"traces,omitempty"`
	ResolvedTraces [][]geo.Position `json:"resolved_traces,omitempty"`
}

var _ Message = (*DENM)(nil)

// Type implements Message
func (d *DENM) Type() Type { return TypeDENM }

// Key implements Message
func (d *DENM) Key() string { return d.DenmKey().String() }

// DenmKey returns the identity key
func (d *DENM) DenmKey() DenmKey {
	return DenmKey{StationID: d.StationID, SequenceNumber: d.SequenceNumber}
}

// CauseDescription describes the cause code
func (d *DENM) CauseDescription() string { return CauseDescription(d.CauseCode) }

// SubCauseDescription describes the sub-cause code
func (d *DENM) SubCauseDescription() string {
	return SubCauseDescription(d.CauseCode, d.SubCauseCode)
}

// Prepare resolves every trace against the event position
func (d *DENM) Prepare() {
	d.ResolvedTraces = nil
	if d.OriginPosition == nil {
		return
	}
	d.ResolvedTraces = make([][]geo.Position, 0, len(d.Traces))
	for _, trace := range d.Traces {
		d.ResolvedTraces = append(d.ResolvedTraces, geo.ResolveChain(*d.OriginPosition, trace))
	}
}

// Clone implements Message
func (d *DENM) Clone() Message {
	cp := *d
	return &cp
}

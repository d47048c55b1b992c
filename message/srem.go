package message

// Request is one signal priority request of a SREM
type Request struct {
	IntersectionID   int64 `json:"intersection_id"`
	RequestID        int   `json:"request_id"`
	RequestType      int   `json:"request_type"`
	InboundLane      int   `json:"inbound_lane"`
	OutboundLane     int   `json:"outbound_lane"`
	ApproachInbound  int   `json:"approach_inbound"`
	ApproachOutbound int   `json:"approach_outbound"`
}

// TypeName describes the request type
func (r Request) TypeName() string { return RequestTypeName(r.RequestType) }

// SREM is a vehicle's priority request, keyed by sender and the
// intersection of its first request.
type SREM struct {
	Base

	Timestamp        float64   `json:"timestamp"`
	SequenceNumber   int       `json:"sequence_number"`
	Requests         []Request `json:"requests"`
	RequestorID      int64     `json:"requestor_id"`
	RequestorRole    int       `json:"requestor_role"`
	RequestorSubRole int       `json:"requestor_sub_role"`
	RequestorName    string    `json:"requestor_name,omitempty"`
	RouteName        string    `json:"route_name,omitempty"`

	// LatestSsem is the intersection id of the matching SSEM
	LatestSsem *int64 `json:"latest_ssem,omitempty"`
}

var _ Message = (*SREM)(nil)

// Type implements Message
func (s *SREM) Type() Type { return TypeSREM }

// Key implements Message
func (s *SREM) Key() string { return s.SremKey().String() }

// SremKey returns the identity key. A SREM always carries a request; the
// decoder rejects empty request lists.
func (s *SREM) SremKey() SremKey {
	key := SremKey{StationID: s.StationID}
	if len(s.Requests) > 0 {
		key.IntersectionID = s.Requests[0].IntersectionID
	}
	return key
}

// Prepare implements Message
func (s *SREM) Prepare() {}

// Clone implements Message
func (s *SREM) Clone() Message {
	cp := *s
	return &cp
}

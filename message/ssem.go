package message

// Response is the intersection's answer to one request
type Response struct {
	RequesterID           int    `json:"requester_id"`
	RequesterStationID    int64  `json:"requester_station_id"`
	RequestID             int    `json:"request_id"`
	RequestSequenceNumber int    `json:"request_sequence_number"`
	Role                  int    `json:"role"`
	SubRole               int    `json:"sub_role"`
	InboundLane           int    `json:"inbound_lane"`
	OutboundLane          int    `json:"outbound_lane"`
	ApproachInbound       int    `json:"approach_inbound"`
	ApproachOutbound      int    `json:"approach_outbound"`
	StatusCode            int    `json:"status_code"`
	Status                string `json:"status"`
}

// SSEM is an intersection's status message, keyed by intersection id
type SSEM struct {
	Base

	Timestamp      int        `json:"timestamp"`
	SequenceNumber int        `json:"sequence_number"`
	IntersectionID int64      `json:"intersection_id"`
	Responses      []Response `json:"responses"`
}

var _ Message = (*SSEM)(nil)

// Type implements Message
func (s *SSEM) Type() Type { return TypeSSEM }

// Key implements Message
func (s *SSEM) Key() string { return stationKey(s.IntersectionID) }

// Prepare implements Message
func (s *SSEM) Prepare() {}

// Clone implements Message
func (s *SSEM) Clone() Message {
	cp := *s
	return &cp
}

// Answers returns the first response to the given request
func (s *SSEM) Answers(req Request) (Response, bool) {
	if s.IntersectionID != req.IntersectionID {
		return Response{}, false
	}
	for _, r := range s.Responses {
		if r.RequestID == req.RequestID {
			return r, true
		}
	}
	return Response{}, false
}

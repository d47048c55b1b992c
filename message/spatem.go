package message

// MovementEvent is one phase of a signal group with optional timing (1/10 s)
type MovementEvent struct {
	State      int  `json:"state"`
	StartTime  *int `json:"start_time,omitempty"`
	MinEndTime *int `json:"min_end_time,omitempty"`
	MaxEndTime *int `json:"max_end_time,omitempty"`
	LikelyTime *int `json:"likely_time,omitempty"`
	Confidence *int `json:"confidence,omitempty"`
}

// Color returns the signal head colour for the phase
func (e MovementEvent) Color() StateColor { return ColorForState(e.State) }

// StateName describes the phase
func (e MovementEvent) StateName() string { return EventStateName(e.State) }

// MovementState is the phase list of one signal group
type MovementState struct {
	SignalGroup int             `json:"signal_group"`
	Name        string          `json:"name,omitempty"`
	Events      []MovementEvent `json:"events"`
}

// Current returns the first (active) event
func (s MovementState) Current() (MovementEvent, bool) {
	if len(s.Events) == 0 {
		return MovementEvent{}, false
	}
	return s.Events[0], true
}

// SpatemIntersection is the live phase data of one intersection
type SpatemIntersection struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name,omitempty"`
	Timestamp      int             `json:"timestamp"`
	Moy            int             `json:"moy"`
	MovementStates []MovementState `json:"movement_states"`
}

// MovementState finds the state of a signal group
func (i *SpatemIntersection) MovementState(signalGroup int) (MovementState, bool) {
	for _, s := range i.MovementStates {
		if s.SignalGroup == signalGroup {
			return s, true
		}
	}
	return MovementState{}, false
}

// SPATEM carries phase data for one or more intersections, keyed by sender
type SPATEM struct {
	Base

	Intersections []SpatemIntersection `json:"intersections"`
}

var _ Message = (*SPATEM)(nil)

// Type implements Message
func (s *SPATEM) Type() Type { return TypeSPATEM }

// Key implements Message
func (s *SPATEM) Key() string { return stationKey(s.StationID) }

// Prepare implements Message
func (s *SPATEM) Prepare() {}

// Clone implements Message
func (s *SPATEM) Clone() Message {
	cp := *s
	return &cp
}

// Intersection finds an intersection by id
func (s *SPATEM) Intersection(id int64) (*SpatemIntersection, bool) {
	for i := range s.Intersections {
		if s.Intersections[i].ID == id {
			return &s.Intersections[i], true
		}
	}
	return nil, false
}

package messagestore

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
)

// Eviction causes reported in metrics
const (
	CauseExpired    = "expired"
	CauseTerminated = "terminated"
	CauseCleared    = "cleared"
	CauseReplaced   = "replaced"
)

// Action is the kind of change an Event reports
type Action string

// Event actions
const (
	ActionUpsert Action = "upsert"
	ActionRemove Action = "remove"
)

// Event is one change to the store. Message is a copy taken when the change
// was made.
type Event struct {
	Action  Action
	Message message.Message
}

// Listener receives store changes. Calls happen after the store lock is
// released, in the order the changes were made, on the goroutine that made
// them. Implementations must not block and must not mutate the store.
type Listener interface {
	OnInsertOrUpdate(msg message.Message)
	OnRemove(msg message.Message)
}

// SweepResult summarizes one sweep pass
type SweepResult struct {
	Kept     int
	Evicted  int
	Duration time.Duration
}

// Deps holds the store's runtime dependencies
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
}

// Store owns every live entity. All mutations and every read used for
// correlation run under one lock.
type Store struct {
	mu          sync.Mutex
	collections map[message.Type]*collection

	dispatchMu sync.Mutex
	listenerMu sync.RWMutex
	listeners  []Listener

	logger  *slog.Logger
	metrics *metric.Metrics
	flow    *component.FlowCounter
}

// New creates an empty store
func New(deps Deps) *Store {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "message-store")
	}
	s := &Store{
		collections: make(map[message.Type]*collection, len(message.Types)),
		logger:      logger,
		metrics:     deps.Metrics,
		flow:        component.NewFlowCounter(),
	}
	for _, t := range message.Types {
		s.collections[t] = newCollection()
	}
	return s
}

// AddListener registers a listener for subsequent changes
func (s *Store) AddListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Upsert inserts or updates an entity and applies its correlation rules.
// The store takes ownership of msg. Unknown variants are ignored.
func (s *Store) Upsert(msg message.Message) {
	if msg == nil {
		return
	}

	s.mu.Lock()
	var events []Event
	switch m := msg.(type) {
	case *message.CAM:
		events = s.upsertCAM(m)
	case *message.DENM:
		events = s.upsertDENM(m)
	case *message.SPATEM:
		events = s.upsertSPATEM(m)
	case *message.MAPEM:
		events = s.upsertMAPEM(m)
	case *message.SREM:
		events = s.upsertSREM(m)
	case *message.SSEM:
		events = s.upsertSSEM(m)
	default:
		s.mu.Unlock()
		return
	}
	s.recordSizes()
	s.flow.Message(0)
	s.release(events)
}

// Sweep keeps every entity seen since the previous sweep, clearing its
// modified flag, and evicts the rest. Links pointing at evicted entities
// are cleared.
func (s *Store) Sweep() SweepResult {
	start := time.Now()

	s.mu.Lock()
	var result SweepResult
	var evicted []message.Message
	for _, t := range message.Types {
		gone := s.collections[t].retain(func(m message.Message) bool {
			h := m.Header()
			if h.Modified {
				h.Modified = false
				return true
			}
			return false
		})
		evicted = append(evicted, gone...)
		result.Kept += s.collections[t].len()
	}

	events := make([]Event, 0, len(evicted))
	for _, m := range evicted {
		events = append(events, removed(m))
		events = append(events, s.unlink(m)...)
		s.recordEviction(m.Type(), CauseExpired)
	}
	s.recordSizes()
	s.release(events)

	result.Evicted = len(evicted)
	result.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordSweep(result.Duration)
	}
	if result.Evicted > 0 {
		s.logger.Debug("Sweep evicted entities", "evicted", result.Evicted, "kept", result.Kept)
	}
	return result
}

// Clear removes every entity
func (s *Store) Clear() {
	s.mu.Lock()
	var events []Event
	for _, t := range message.Types {
		for _, m := range s.collections[t].clear() {
			events = append(events, removed(m))
			s.recordEviction(t, CauseCleared)
		}
	}
	s.recordSizes()
	s.release(events)

	s.logger.Info("Message store cleared", "removed", len(events))
}

// Get returns a copy of one entity
func (s *Store) Get(t message.Type, key string) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[t]
	if !ok {
		return nil, false
	}
	m, ok := c.get(key)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// List returns copies of the entities of one type in insertion order
func (s *Store) List(t message.Type) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[t]
	if !ok {
		return nil
	}
	out := make([]message.Message, 0, c.len())
	c.each(func(m message.Message) bool {
		out = append(out, m.Clone())
		return true
	})
	return out
}

// Snapshot returns copies of every entity, grouped by type in store order
func (s *Store) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []message.Message
	for _, t := range message.Types {
		s.collections[t].each(func(m message.Message) bool {
			out = append(out, m.Clone())
			return true
		})
	}
	return out
}

// Counts returns the number of live entities per type
func (s *Store) Counts() map[message.Type]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[message.Type]int, len(s.collections))
	for t, c := range s.collections {
		counts[t] = c.len()
	}
	return counts
}

// Len returns the total number of live entities
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.collections {
		n += c.len()
	}
	return n
}

// Intersection returns a MAPEM together with the SPATEM phase data it is
// linked to, read atomically.
func (s *Store) Intersection(id int64) (*message.MAPEM, *message.SpatemIntersection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.collections[message.TypeMAPEM].get(idKey(id))
	if !ok {
		return nil, nil, false
	}
	mapem := m.Clone().(*message.MAPEM)
	if mapem.LatestSpatem == nil {
		return mapem, nil, true
	}

	sp, ok := s.collections[message.TypeSPATEM].get(idKey(mapem.LatestSpatem.StationID))
	if !ok {
		return mapem, nil, true
	}
	in, ok := sp.(*message.SPATEM).Intersection(mapem.LatestSpatem.IntersectionID)
	if !ok {
		return mapem, nil, true
	}
	phase := *in
	return mapem, &phase, true
}

// Meta implements component.Discoverable
func (s *Store) Meta() component.Metadata {
	return component.Metadata{
		Name:        "message-store",
		Type:        "storage",
		Description: "Correlated, self-expiring store of live V2X entities",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (s *Store) Health() component.HealthStatus {
	return s.flow.Health(true)
}

// DataFlow implements component.Discoverable
func (s *Store) DataFlow() component.FlowMetrics {
	return s.flow.Flow()
}

// release unlocks the store and delivers events. Holding dispatchMu
// across the unlock keeps delivery in mutation order between goroutines.
func (s *Store) release(events []Event) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.mu.Unlock()
	s.dispatch(events)
}

func (s *Store) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			switch ev.Action {
			case ActionUpsert:
				l.OnInsertOrUpdate(ev.Message)
			case ActionRemove:
				l.OnRemove(ev.Message)
			}
		}
	}
}

func (s *Store) recordSizes() {
	if s.metrics == nil {
		return
	}
	for t, c := range s.collections {
		s.metrics.RecordStoreSize(string(t), c.len())
	}
}

func (s *Store) recordEviction(t message.Type, cause string) {
	if s.metrics != nil {
		s.metrics.RecordEviction(string(t), cause)
	}
}

func upserted(m message.Message) Event {
	return Event{Action: ActionUpsert, Message: m.Clone()}
}

func removed(m message.Message) Event {
	return Event{Action: ActionRemove, Message: m.Clone()}
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

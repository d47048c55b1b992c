// Package natsmirror publishes store changes on NATS subjects and keeps a
// JetStream key-value bucket in step with the live store.
//
// Events go to <prefix>.<type>.<action>, e.g. v2x.events.denm.remove. The
// bucket holds one key per live entity, <type>.<key>, whose value is the
// entity JSON; a removal deletes the key.
package natsmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/output"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Name identifies the sink in logs and metrics
const Name = "nats-mirror"

// Publisher sends core NATS messages. *natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StateStore is the key-value view of the live store. *natsclient.KVStore
// implements it.
type StateStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Config controls subjects and queueing
type Config struct {
	SubjectPrefix string
	InstanceID    string
	QueueSize     int
}

// Envelope is the body published for every event
type Envelope struct {
	ID        string              `json:"id"`
	Instance  string              `json:"instance,omitempty"`
	Action    messagestore.Action `json:"action"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   output.Payload      `json:"payload"`
}

// Mirror is a store listener. State may be nil, in which case only events
// are published.
type Mirror struct {
	cfg       Config
	publisher Publisher
	state     StateStore
	queue     *output.Queue
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ messagestore.Listener  = (*Mirror)(nil)
	_ component.Discoverable = (*Mirror)(nil)
)

// New creates a mirror
func New(cfg Config, publisher Publisher, state StateStore, deps output.Deps) (*Mirror, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "check publisher")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "v2x.events"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", Name)
	}

	m := &Mirror{
		cfg:       cfg,
		publisher: publisher,
		state:     state,
		logger:    deps.Logger,
		now:       time.Now,
	}
	m.queue = output.NewQueue(Name, cfg.QueueSize, m.deliver, deps)
	return m, nil
}

// Subject returns the subject an event is published on
func (m *Mirror) Subject(t message.Type, action messagestore.Action) string {
	return fmt.Sprintf("%s.%s.%s", m.cfg.SubjectPrefix, output.Segment(t), action)
}

// StateKey returns the bucket key of an entity
func StateKey(t message.Type, key string) string {
	return output.Segment(t) + "." + key
}

// Start begins delivery
func (m *Mirror) Start(ctx context.Context) error {
	return m.queue.Start(ctx)
}

// Stop delivers what is queued, bounded by timeout
func (m *Mirror) Stop(timeout time.Duration) error {
	return m.queue.Stop(timeout)
}

// OnInsertOrUpdate implements messagestore.Listener
func (m *Mirror) OnInsertOrUpdate(msg message.Message) {
	m.queue.OnInsertOrUpdate(msg)
}

// OnRemove implements messagestore.Listener
func (m *Mirror) OnRemove(msg message.Message) {
	m.queue.OnRemove(msg)
}

// Sync writes every entity of snapshot to the bucket and deletes keys of
// entities that are no longer live, e.g. left over from a previous run
func (m *Mirror) Sync(ctx context.Context, snapshot []message.Message) error {
	if m.state == nil {
		return nil
	}

	live := make(map[string]bool, len(snapshot))
	for _, msg := range snapshot {
		key := StateKey(msg.Type(), msg.Key())
		live[key] = true

		data, err := json.Marshal(msg)
		if err != nil {
			return errors.WrapInvalid(err, Name, "Sync", "encode "+key)
		}
		if _, err := m.state.Put(ctx, key, data); err != nil {
			return errors.WrapTransient(err, Name, "Sync", "put "+key)
		}
	}

	keys, err := m.state.Keys(ctx)
	if err != nil {
		return errors.WrapTransient(err, Name, "Sync", "list keys")
	}
	stale := 0
	for _, key := range keys {
		if live[key] {
			continue
		}
		if err := m.state.Delete(ctx, key); err != nil {
			return errors.WrapTransient(err, Name, "Sync", "delete "+key)
		}
		stale++
	}

	m.logger.Info("State bucket synchronized", "entities", len(snapshot), "stale_removed", stale)
	return nil
}

func (m *Mirror) deliver(ctx context.Context, ev messagestore.Event) error {
	env := Envelope{
		ID:        uuid.NewString(),
		Instance:  m.cfg.InstanceID,
		Action:    ev.Action,
		Timestamp: m.now().UTC(),
		Payload:   output.NewPayload(ev),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, Name, "deliver", "encode envelope")
	}

	subject := m.Subject(ev.Message.Type(), ev.Action)
	if err := m.publisher.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, Name, "deliver", "publish "+subject)
	}

	if m.state == nil {
		return nil
	}

	key := StateKey(ev.Message.Type(), ev.Message.Key())
	switch ev.Action {
	case messagestore.ActionRemove:
		if err := m.state.Delete(ctx, key); err != nil {
			return errors.WrapTransient(err, Name, "deliver", "delete "+key)
		}
	default:
		entity, err := json.Marshal(ev.Message)
		if err != nil {
			return errors.WrapInvalid(err, Name, "deliver", "encode "+key)
		}
		if _, err := m.state.Put(ctx, key, entity); err != nil {
			return errors.WrapTransient(err, Name, "deliver", "put "+key)
		}
	}
	return nil
}

// Meta implements component.Discoverable
func (m *Mirror) Meta() component.Metadata {
	return component.Metadata{
		Name:        Name,
		Type:        "output",
		Description: fmt.Sprintf("Publishes store events on %s.> and mirrors live state", m.cfg.SubjectPrefix),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (m *Mirror) Health() component.HealthStatus {
	flow := m.queue.Flow()
	return flow.Health(flow.Errors() == 0 || flow.Messages() > flow.Errors())
}

// DataFlow implements component.Discoverable
func (m *Mirror) DataFlow() component.FlowMetrics {
	return m.queue.Flow().Flow()
}

// Package output holds what the event sinks share: the payload published for
// every store change and the bounded queue that decouples a sink from the
// store.
package output

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/worker"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// DefaultQueueSize bounds the events waiting for a slow sink
const DefaultQueueSize = 1024

// Payload is the JSON body sinks publish for a store change. Entity is
// omitted on removal.
type Payload struct {
	MessageType message.Type    `json:"message_type"`
	Key         string          `json:"key"`
	Entity      message.Message `json:"entity,omitempty"`
}

// NewPayload builds the payload for an event
func NewPayload(ev messagestore.Event) Payload {
	p := Payload{MessageType: ev.Message.Type(), Key: ev.Message.Key()}
	if ev.Action == messagestore.ActionUpsert {
		p.Entity = ev.Message
	}
	return p
}

// Segment renders a message type as a lower-case topic or subject token
func Segment(t message.Type) string {
	return strings.ToLower(string(t))
}

// Handler delivers one event to a sink's destination
type Handler func(ctx context.Context, ev messagestore.Event) error

// Deps are the shared services of a queue
type Deps struct {
	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry
}

// Queue implements messagestore.Listener by handing events to a single
// worker, so a sink sees events in store order and never blocks the store.
// Events arriving while the queue is full are dropped and counted.
type Queue struct {
	name    string
	handler Handler
	pool    *worker.Pool[messagestore.Event]
	logger  *slog.Logger
	metrics *metric.Metrics
	flow    *component.FlowCounter
	dropLog *rate.Limiter
}

var _ messagestore.Listener = (*Queue)(nil)

// NewQueue creates a queue named after its sink
func NewQueue(name string, size int, handler Handler, deps Deps) *Queue {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}
	if size <= 0 {
		size = DefaultQueueSize
	}

	q := &Queue{
		name:    name,
		handler: handler,
		logger:  logger,
		metrics: deps.Metrics,
		flow:    component.NewFlowCounter(),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	q.pool = worker.NewPool(name, 1, size, q.deliver,
		worker.WithLogger[messagestore.Event](logger),
		worker.WithMetricsRegistry[messagestore.Event](deps.MetricsRegistry),
	)
	return q
}

// Start begins delivery
func (q *Queue) Start(ctx context.Context) error {
	if err := q.pool.Start(ctx); err != nil && !errors.Is(err, worker.ErrPoolAlreadyStarted) {
		return errors.WrapFatal(err, q.name, "Start", "start delivery")
	}
	return nil
}

// Stop delivers what is queued, bounded by timeout
func (q *Queue) Stop(timeout time.Duration) error {
	if err := q.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, q.name, "Stop", "drain queue")
	}
	return nil
}

// OnInsertOrUpdate implements messagestore.Listener
func (q *Queue) OnInsertOrUpdate(msg message.Message) {
	q.enqueue(messagestore.Event{Action: messagestore.ActionUpsert, Message: msg})
}

// OnRemove implements messagestore.Listener
func (q *Queue) OnRemove(msg message.Message) {
	q.enqueue(messagestore.Event{Action: messagestore.ActionRemove, Message: msg})
}

// Flow exposes the delivery counters for the sink's Health and DataFlow
func (q *Queue) Flow() *component.FlowCounter {
	return q.flow
}

// Stats returns the queue statistics
func (q *Queue) Stats() worker.PoolStats {
	return q.pool.Stats()
}

func (q *Queue) enqueue(ev messagestore.Event) {
	err := q.pool.Submit(ev)
	if err == nil {
		return
	}

	q.flow.Error(err)
	if q.metrics != nil {
		q.metrics.RecordSinkError(q.name)
	}
	if q.dropLog.Allow() {
		q.logger.Warn("Event dropped", "sink", q.name, "action", ev.Action,
			"type", ev.Message.Type(), "key", ev.Message.Key(), "error", err)
	}
}

func (q *Queue) deliver(ctx context.Context, ev messagestore.Event) error {
	if err := q.handler(ctx, ev); err != nil {
		q.flow.Error(err)
		if q.metrics != nil {
			q.metrics.RecordSinkError(q.name)
		}
		if q.dropLog.Allow() {
			q.logger.Warn("Event delivery failed", "sink", q.name, "action", ev.Action,
				"type", ev.Message.Type(), "key", ev.Message.Key(), "error", err)
		}
		return err
	}

	q.flow.Message(0)
	if q.metrics != nil {
		q.metrics.RecordSinkEvent(q.name, string(ev.Action))
	}
	return nil
}

// Package mqtt publishes store changes to an MQTT broker.
//
// Each event goes to <prefix>/<type>/<key>, e.g. v2x/denm/7/3. An upsert
// carries the output.Payload JSON. A removal publishes an empty retained
// message, which clears whatever the broker retained for the topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/output"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Name identifies the sink in logs and metrics
const Name = "mqtt"

// Publisher is the part of a broker client the sink needs
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
	IsConnected() bool
}

// Config defines the broker connection and topic layout
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	QueueSize      int
}

// Output is a store listener publishing to MQTT
type Output struct {
	cfg       Config
	publisher Publisher
	queue     *output.Queue
	logger    *slog.Logger
}

var (
	_ messagestore.Listener        = (*Output)(nil)
	_ component.Discoverable       = (*Output)(nil)
	_ component.LifecycleComponent = (*Output)(nil)
)

// New creates the sink with a paho client for cfg.Broker
func New(cfg Config, deps output.Deps) (*Output, error) {
	if cfg.Broker == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "check broker")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "v2xstreams"
	}
	return NewWithPublisher(cfg, NewPahoPublisher(cfg), deps), nil
}

// NewWithPublisher creates the sink around an existing publisher
func NewWithPublisher(cfg Config, publisher Publisher, deps output.Deps) *Output {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "v2x"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", Name)
	}

	o := &Output{
		cfg:       cfg,
		publisher: publisher,
		logger:    deps.Logger,
	}
	o.queue = output.NewQueue(Name, cfg.QueueSize, o.deliver, deps)
	return o
}

// Topic returns the topic an entity's events are published on
func (o *Output) Topic(t message.Type, key string) string {
	return fmt.Sprintf("%s/%s/%s", o.cfg.TopicPrefix, output.Segment(t), key)
}

// Initialize implements component.LifecycleComponent
func (o *Output) Initialize() error {
	if o.cfg.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("qos %d out of range", o.cfg.QoS), Name, "Initialize", "check qos")
	}
	return nil
}

// Start connects to the broker and begins delivery
func (o *Output) Start(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	if err := o.publisher.Connect(connectCtx); err != nil {
		return errors.WrapTransient(err, Name, "Start", "connect to "+o.cfg.Broker)
	}
	o.logger.Info("Connected to MQTT broker", "broker", o.cfg.Broker, "prefix", o.cfg.TopicPrefix)
	return o.queue.Start(ctx)
}

// Stop delivers what is queued and disconnects
func (o *Output) Stop(timeout time.Duration) error {
	err := o.queue.Stop(timeout)
	o.publisher.Disconnect()
	return err
}

// OnInsertOrUpdate implements messagestore.Listener
func (o *Output) OnInsertOrUpdate(msg message.Message) {
	o.queue.OnInsertOrUpdate(msg)
}

// OnRemove implements messagestore.Listener
func (o *Output) OnRemove(msg message.Message) {
	o.queue.OnRemove(msg)
}

func (o *Output) deliver(ctx context.Context, ev messagestore.Event) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	topic := o.Topic(ev.Message.Type(), ev.Message.Key())

	if ev.Action == messagestore.ActionRemove {
		if err := o.publisher.Publish(ctx, topic, o.cfg.QoS, true, nil); err != nil {
			return errors.WrapTransient(err, Name, "deliver", "clear "+topic)
		}
		return nil
	}

	data, err := json.Marshal(output.NewPayload(ev))
	if err != nil {
		return errors.WrapInvalid(err, Name, "deliver", "encode payload")
	}
	if err := o.publisher.Publish(ctx, topic, o.cfg.QoS, o.cfg.Retain, data); err != nil {
		return errors.WrapTransient(err, Name, "deliver", "publish "+topic)
	}
	return nil
}

// Meta implements component.Discoverable
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        Name,
		Type:        "output",
		Description: fmt.Sprintf("Publishes store events to %s under %s/", o.cfg.Broker, o.cfg.TopicPrefix),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (o *Output) Health() component.HealthStatus {
	return o.queue.Flow().Health(o.publisher.IsConnected())
}

// DataFlow implements component.Discoverable
func (o *Output) DataFlow() component.FlowMetrics {
	return o.queue.Flow().Flow()
}

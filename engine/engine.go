// Package engine assembles the ingestion pipeline: the source connection
// feeds the framer, documents go through the decoder into the message
// store, the sweeper evicts stale entities and every store change fans out
// to the spatial index and the event sinks.
//
// The engine owns the store; there is no package-level state. The query API
// and the binary drive it through the control methods (Configure, Connect,
// Disconnect, SetSweepInterval, Clear) and read it through Status, Store and
// Index.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/input/tcp"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/pkg/spatial"
	"github.com/c360/v2xstreams/processor/decoder"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Sink is an event consumer with its own lifecycle
type Sink interface {
	messagestore.Listener
	component.Discoverable
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Config holds the pipeline settings
type Config struct {
	Source        tcp.Config
	SweepInterval time.Duration
}

// Deps holds runtime dependencies
type Deps struct {
	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry

	// Dial and Sleep replace the network and clock of the source connection
	Dial  tcp.Dialer
	Sleep func(ctx context.Context, d time.Duration) error
}

// SinkStatus is the state of one sink in Status
type SinkStatus struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

// Status is the engine snapshot served by the control surface
type Status struct {
	Running       bool                 `json:"running"`
	Connection    tcp.Status           `json:"connection"`
	SweepInterval string               `json:"sweep_interval"`
	Sweeps        int64                `json:"sweeps"`
	Entities      int                  `json:"entities"`
	Counts        map[message.Type]int `json:"counts"`
	Indexed       int                  `json:"indexed"`
	Sinks         []SinkStatus         `json:"sinks"`
}

// Engine wires and runs the pipeline
type Engine struct {
	logger  *slog.Logger
	metrics *engineMetrics

	store   *messagestore.Store
	decoder *decoder.Decoder
	source  *tcp.Manager
	sweeper *messagestore.Sweeper
	index   *spatial.Index

	sinksMu sync.RWMutex
	sinks   []Sink
	started map[Sink]bool

	lifecycleMu sync.Mutex
	running     bool
}

// New builds the pipeline. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newEngineMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	e := &Engine{
		logger:  logger.With("component", "engine"),
		metrics: metrics,
		store: messagestore.New(messagestore.Deps{
			Logger:  logger.With("component", "message-store"),
			Metrics: deps.Metrics,
		}),
		decoder: decoder.New(decoder.Deps{
			Logger:  logger.With("component", "decoder"),
			Metrics: deps.Metrics,
		}),
		index:   spatial.New(),
		started: make(map[Sink]bool),
	}
	e.store.AddListener(e.index)
	e.sweeper = messagestore.NewSweeper(e.store, cfg.SweepInterval, logger.With("component", "sweeper"))

	e.source, err = tcp.NewManager(tcp.Deps{
		Name:    "tcp-input",
		Config:  cfg.Source,
		Handler: e.ingest,
		Metrics: deps.Metrics,
		Logger:  logger.With("component", "tcp-input"),
		Dial:    deps.Dial,
		Sleep:   deps.Sleep,
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine", "New", "create source connection")
	}
	return e, nil
}

// ingest is the framer's document handler
func (e *Engine) ingest(doc []byte) {
	for _, msg := range e.decoder.Process(doc) {
		e.store.Upsert(msg)
	}
}

// AddSink registers a sink for subsequent store changes. A sink added
// while the engine runs is started immediately.
func (e *Engine) AddSink(ctx context.Context, s Sink) error {
	e.sinksMu.Lock()
	e.sinks = append(e.sinks, s)
	e.sinksMu.Unlock()
	e.store.AddListener(s)

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if !e.running {
		return nil
	}
	return e.startSinks(ctx, []Sink{s})
}

// Store returns the live store
func (e *Engine) Store() *messagestore.Store { return e.store }

// Index returns the spatial index kept in step with the store
func (e *Engine) Index() *spatial.Index { return e.index }

// Start starts the sinks, the sweeper and the source connection. A sink
// that cannot reach its broker is logged and left unhealthy; a sink that
// cannot start at all aborts the start.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running {
		return nil
	}
	start := time.Now()

	e.sinksMu.RLock()
	sinks := append([]Sink(nil), e.sinks...)
	e.sinksMu.RUnlock()

	if err := e.startSinks(ctx, sinks); err != nil {
		e.metrics.recordOperation("start", false, time.Since(start).Seconds())
		return err
	}
	if err := e.sweeper.Start(ctx); err != nil {
		e.metrics.recordOperation("start", false, time.Since(start).Seconds())
		return errors.Wrap(err, "engine", "Start", "start sweeper")
	}
	if err := e.source.Initialize(); err != nil {
		_ = e.sweeper.Stop(time.Second)
		e.metrics.recordOperation("start", false, time.Since(start).Seconds())
		return errors.Wrap(err, "engine", "Start", "initialize source connection")
	}
	if err := e.source.Start(ctx); err != nil {
		_ = e.sweeper.Stop(time.Second)
		e.metrics.recordOperation("start", false, time.Since(start).Seconds())
		return errors.Wrap(err, "engine", "Start", "start source connection")
	}

	e.running = true
	e.metrics.recordOperation("start", true, time.Since(start).Seconds())
	e.logger.Info("Engine started", "sinks", len(sinks), "sweep_interval",
		messagestore.FormatInterval(e.sweeper.Interval()))
	return nil
}

// startSinks starts sinks concurrently. Caller holds lifecycleMu.
func (e *Engine) startSinks(ctx context.Context, sinks []Sink) error {
	var mu sync.Mutex
	var g errgroup.Group
	for _, s := range sinks {
		g.Go(func() error {
			name := s.Meta().Name
			if lc, ok := component.AsLifecycleComponent(s); ok {
				if err := lc.Initialize(); err != nil {
					return errors.Wrap(err, "engine", "Start", "initialize sink "+name)
				}
			}
			if err := s.Start(ctx); err != nil {
				if errors.IsFatal(err) || errors.IsInvalid(err) {
					return errors.Wrap(err, "engine", "Start", "start sink "+name)
				}
				e.logger.Warn("Sink unavailable, continuing without it", "sink", name, "error", err)
				return nil
			}
			mu.Lock()
			e.started[s] = true
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	mu.Lock()
	e.metrics.setActiveSinks(len(e.started))
	mu.Unlock()
	return err
}

// Stop stops the source first so no new documents arrive, then the
// sweeper, then drains and stops the sinks
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	start := time.Now()

	var errs []error
	if err := e.source.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := e.sweeper.Stop(timeout); err != nil {
		errs = append(errs, err)
	}

	e.sinksMu.RLock()
	sinks := append([]Sink(nil), e.sinks...)
	e.sinksMu.RUnlock()
	for i := len(sinks) - 1; i >= 0; i-- {
		if !e.started[sinks[i]] {
			continue
		}
		if err := sinks[i].Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sinks[i].Meta().Name, err))
		}
		delete(e.started, sinks[i])
	}
	e.metrics.setActiveSinks(0)

	err := stderrors.Join(errs...)
	e.metrics.recordOperation("stop", err == nil, time.Since(start).Seconds())
	if err != nil {
		return errors.WrapTransient(err, "engine", "Stop", "graceful shutdown")
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Status reports connection, sweep, store and sink state
func (e *Engine) Status() Status {
	e.lifecycleMu.Lock()
	running := e.running
	e.lifecycleMu.Unlock()

	st := Status{
		Running:       running,
		Connection:    e.source.Status(),
		SweepInterval: messagestore.FormatInterval(e.sweeper.Interval()),
		Sweeps:        e.sweeper.Sweeps(),
		Counts:        e.store.Counts(),
		Entities:      e.store.Len(),
		Indexed:       e.index.Len(),
	}

	e.sinksMu.RLock()
	defer e.sinksMu.RUnlock()
	for _, s := range e.sinks {
		h := s.Health()
		st.Sinks = append(st.Sinks, SinkStatus{Name: s.Meta().Name, Healthy: h.Healthy, LastError: h.LastError})
	}
	return st
}

// Configure sets the source address and reconnects to it
func (e *Engine) Configure(host string, port int) error {
	start := time.Now()
	err := e.source.SetAddress(host, port)
	e.metrics.recordOperation("configure", err == nil, time.Since(start).Seconds())
	if err != nil {
		return errors.Wrap(err, "engine", "Configure", "set source address")
	}
	return nil
}

// Connect starts attempting the source connection. It fails with
// ErrNotConfigured when no address is set.
func (e *Engine) Connect() error {
	if !e.source.Status().Configured {
		e.metrics.recordOperation("connect", false, 0)
		return errors.WrapInvalid(errors.ErrNotConfigured, "engine", "Connect", "check source address")
	}
	e.source.Connect()
	e.metrics.recordOperation("connect", true, 0)
	return nil
}

// Disconnect closes the source connection and stops attempting
func (e *Engine) Disconnect() {
	e.source.Disconnect()
	e.metrics.recordOperation("disconnect", true, 0)
}

// SetSweepInterval changes the sweep interval. Only the selectable
// intervals are accepted; messagestore.Never disables sweeping.
func (e *Engine) SetSweepInterval(d time.Duration) error {
	for _, allowed := range messagestore.Intervals {
		if d == allowed {
			e.sweeper.SetInterval(d)
			e.metrics.recordOperation("set_sweep_interval", true, 0)
			e.logger.Info("Sweep interval changed", "interval", messagestore.FormatInterval(d))
			return nil
		}
	}
	e.metrics.recordOperation("set_sweep_interval", false, 0)
	return errors.WrapInvalid(fmt.Errorf("%w: sweep interval %v", errors.ErrInvalidConfig, d),
		"engine", "SetSweepInterval", "check interval")
}

// SweepInterval returns the current sweep interval
func (e *Engine) SweepInterval() time.Duration { return e.sweeper.Interval() }

// Sweep runs one sweep pass now
func (e *Engine) Sweep() messagestore.SweepResult {
	start := time.Now()
	res := e.store.Sweep()
	e.metrics.recordOperation("sweep", true, time.Since(start).Seconds())
	return res
}

// Clear empties the store; listeners see a removal for every entity
func (e *Engine) Clear() {
	start := time.Now()
	n := e.store.Len()
	e.store.Clear()
	e.metrics.recordOperation("clear", true, time.Since(start).Seconds())
	e.logger.Info("Store cleared", "entities", n)
}

// Components lists every part for health monitoring, keyed by name
func (e *Engine) Components() map[string]component.Discoverable {
	out := map[string]component.Discoverable{
		e.source.Meta().Name:  e.source,
		e.decoder.Meta().Name: e.decoder,
		e.store.Meta().Name:   e.store,
	}
	e.sinksMu.RLock()
	defer e.sinksMu.RUnlock()
	for _, s := range e.sinks {
		out[s.Meta().Name] = s
	}
	return out
}

// Package worker provides a bounded worker pool used to hand store events to
// slow consumers without blocking the producer
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/v2xstreams/metric"
)

// Pool processes work items of type T on a fixed number of goroutines. With
// a single worker items are processed in submission order.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logger    *slog.Logger

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry *metric.MetricsRegistry
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers queue depth, drop and latency metrics under
// the pool name
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
	}
}

// WithLogger sets the logger used for processing failures
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. name labels logs and metrics; workers and queueSize
// fall back to 1 and 1000 when not positive.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default().With("component", "worker-pool", "pool", name),
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.metricsRegistry != nil && name != "" {
		p.metrics = p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() *poolMetrics {
	labels := prometheus.Labels{"pool": p.name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "v2xstreams",
			Subsystem:   "worker_pool",
			Name:        "queue_depth",
			Help:        "Current worker pool queue depth",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "v2xstreams",
			Subsystem:   "worker_pool",
			Name:        "dropped_total",
			Help:        "Work items dropped because the queue was full",
			ConstLabels: labels,
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "v2xstreams",
			Subsystem:   "worker_pool",
			Name:        "processing_duration_seconds",
			Help:        "Time spent processing work items",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			ConstLabels: labels,
		}, []string{"status"}),
	}

	service := "worker_pool_" + p.name
	if err := p.metricsRegistry.RegisterGauge(service, "queue_depth", m.queueDepth); err != nil {
		p.logger.Warn("Worker pool metrics disabled", "error", err)
		return nil
	}
	if err := p.metricsRegistry.RegisterCounter(service, "dropped_total", m.dropped); err != nil {
		p.logger.Warn("Worker pool metrics disabled", "error", err)
		return nil
	}
	if err := p.metricsRegistry.RegisterHistogramVec(service, "processing_duration_seconds", m.processingTime); err != nil {
		p.logger.Warn("Worker pool metrics disabled", "error", err)
		return nil
	}
	return m
}

// Submit queues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is cancelled or the pool is
// stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits for the workers to finish what is queued
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
		p.logger.Debug("Work item failed", "error", err)
	}

	if p.metrics != nil {
		p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

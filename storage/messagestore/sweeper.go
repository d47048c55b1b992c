package messagestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/v2xstreams/errors"
)

// Never disables periodic sweeping
const Never time.Duration = 0

// DefaultInterval is the sweep interval used when none is configured
const DefaultInterval = 60 * time.Second

// Intervals lists the selectable sweep intervals
var Intervals = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1800 * time.Second,
	Never,
}

// ParseInterval accepts one of the selectable intervals ("10s" ... "1800s",
// "30m") or "never".
func ParseInterval(s string) (time.Duration, error) {
	if s == "never" {
		return Never, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep interval %q", errors.ErrInvalidConfig, s)
	}
	for _, allowed := range Intervals {
		if d == allowed && d != Never {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: sweep interval %q is not one of 10s 30s 60s 180s 300s 600s 1800s never",
		errors.ErrInvalidConfig, s)
}

// FormatInterval is the inverse of ParseInterval
func FormatInterval(d time.Duration) string {
	if d == Never {
		return "never"
	}
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

// Sweeper runs Store.Sweep periodically. A sweep runs as soon as the timer
// is armed, then once per interval. Changing the interval re-arms the timer.
type Sweeper struct {
	store  *Store
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}

	sweeps atomic.Int64
}

// NewSweeper creates a sweeper for store. Any non-negative interval is
// accepted; Never disables sweeping.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default().With("component", "sweeper")
	}
	if interval < 0 {
		interval = Never
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// Start launches the sweep loop. It is idempotent.
func (w *Sweeper) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running.Store(true)

	select {
	case <-w.reset:
	default:
	}
	go w.run(loopCtx, w.Interval())
	return nil
}

// Stop ends the sweep loop, waiting up to timeout
func (w *Sweeper) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return nil
	}
	w.running.Store(false)
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"sweeper", "Stop", "graceful shutdown")
	}
	return nil
}

// Interval returns the current interval
func (w *Sweeper) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// SetInterval changes the interval. A running loop re-arms its timer,
// which sweeps immediately unless the new interval is Never.
func (w *Sweeper) SetInterval(d time.Duration) {
	if d < 0 {
		d = Never
	}
	w.mu.Lock()
	w.interval = d
	w.mu.Unlock()

	// keep only the newest pending change
	select {
	case <-w.reset:
	default:
	}
	select {
	case w.reset <- d:
	default:
	}
	w.logger.Info("Sweep interval changed", "interval", FormatInterval(d))
}

// Sweeps returns the number of sweeps run by the loop
func (w *Sweeper) Sweeps() int64 { return w.sweeps.Load() }

func (w *Sweeper) run(ctx context.Context, interval time.Duration) {
	defer close(w.done)

	for {
		var (
			ticker *time.Ticker
			tick   <-chan time.Time
		)
		if interval > 0 {
			w.sweep(interval)
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}

		next, ok := w.wait(ctx, tick, interval)
		if ticker != nil {
			ticker.Stop()
		}
		if !ok {
			return
		}
		interval = next
	}
}

// wait sweeps on every tick until the interval changes or ctx ends
func (w *Sweeper) wait(ctx context.Context, tick <-chan time.Time, interval time.Duration) (time.Duration, bool) {
	for {
		select {
		case <-ctx.Done():
			return 0, false
		case next := <-w.reset:
			return next, true
		case <-tick:
			w.sweep(interval)
		}
	}
}

func (w *Sweeper) sweep(interval time.Duration) {
	result := w.store.Sweep()
	w.sweeps.Add(1)
	w.logger.Debug("Cleanup finished", "interval", FormatInterval(interval),
		"kept", result.Kept, "evicted", result.Evicted, "duration", result.Duration)
}

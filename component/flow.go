package component

import (
	"sync/atomic"
	"time"
)

// FlowCounter keeps the atomic counters most components report through
// Health and DataFlow. The zero value is not usable; call NewFlowCounter.
type FlowCounter struct {
	messages     atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Value // time.Time
	startTime    atomic.Value // time.Time
}

// NewFlowCounter returns a counter whose uptime starts now
func NewFlowCounter() *FlowCounter {
	fc := &FlowCounter{}
	fc.lastError.Store("")
	fc.lastActivity.Store(time.Time{})
	fc.startTime.Store(time.Now())
	return fc
}

// Reset restarts the uptime clock, keeping totals
func (fc *FlowCounter) Reset() {
	fc.startTime.Store(time.Now())
}

// Message records one processed message of n bytes
func (fc *FlowCounter) Message(n int) {
	fc.messages.Add(1)
	fc.bytes.Add(int64(n))
	fc.lastActivity.Store(time.Now())
}

// Error records a failure
func (fc *FlowCounter) Error(err error) {
	fc.errors.Add(1)
	if err != nil {
		fc.lastError.Store(err.Error())
	}
}

// Messages returns the processed total
func (fc *FlowCounter) Messages() int64 { return fc.messages.Load() }

// Errors returns the error total
func (fc *FlowCounter) Errors() int64 { return fc.errors.Load() }

// Health builds a HealthStatus with the given liveness flag
func (fc *FlowCounter) Health(healthy bool) HealthStatus {
	lastError, _ := fc.lastError.Load().(string)
	start, _ := fc.startTime.Load().(time.Time)
	return HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(fc.errors.Load()),
		LastError:  lastError,
		Uptime:     time.Since(start),
	}
}

// Flow computes rates over the uptime
func (fc *FlowCounter) Flow() FlowMetrics {
	messages := fc.messages.Load()
	bytes := fc.bytes.Load()
	errorCount := fc.errors.Load()
	lastActivity, _ := fc.lastActivity.Load().(time.Time)
	start, _ := fc.startTime.Load().(time.Time)

	var metrics FlowMetrics
	metrics.LastActivity = lastActivity

	if uptime := time.Since(start).Seconds(); uptime > 0 {
		metrics.MessagesPerSecond = float64(messages) / uptime
		metrics.BytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		metrics.ErrorRate = float64(errorCount) / float64(messages)
	}
	return metrics
}

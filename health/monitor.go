package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/metric"
)

// Monitor tracks health of multiple components in a thread-safe manner.
// Components registered with Watch are polled; others push via Update.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	sources  map[string]component.Discoverable
	metrics  *metric.Metrics
}

// NewMonitor creates a new health monitor. metrics may be nil.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		sources:  make(map[string]component.Discoverable),
		metrics:  metrics,
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status

	if m.metrics != nil {
		m.metrics.RecordHealthStatus(name, !status.IsUnhealthy())
	}
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Register adds a component whose health is read on every Refresh
func (m *Monitor) Register(name string, c component.Discoverable) {
	m.mu.Lock()
	m.sources[name] = c
	m.mu.Unlock()
	m.Update(name, FromComponent(name, c))
}

// Refresh polls all registered components once
func (m *Monitor) Refresh() {
	m.mu.RLock()
	sources := make(map[string]component.Discoverable, len(m.sources))
	for name, c := range m.sources {
		sources[name] = c
	}
	m.mu.RUnlock()

	for name, c := range sources {
		m.Update(name, FromComponent(name, c))
	}
}

// Watch refreshes on every interval until ctx is done
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.sources, name)
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}

	return Aggregate(systemName, subStatuses)
}

// ListComponents returns the monitored component names, sorted
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

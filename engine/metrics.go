package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/v2xstreams/metric"
)

// engineMetrics holds Prometheus metrics for control operations
type engineMetrics struct {
	operations        *prometheus.CounterVec   // By operation and status
	operationDuration *prometheus.HistogramVec // By operation
	activeSinks       prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Control operations by outcome",
		}, []string{"operation", "status"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "v2xstreams",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Control operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0},
		}, []string{"operation"}),

		activeSinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "v2xstreams",
			Subsystem: "engine",
			Name:      "active_sinks",
			Help:      "Event sinks started successfully",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "operations_total", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "operation_duration", m.operationDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_sinks", m.activeSinks); err != nil {
		return nil, err
	}

	return m, nil
}

// recordOperation records one control operation
func (m *engineMetrics) recordOperation(operation string, success bool, duration float64) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration)
}

// setActiveSinks sets the number of running sinks
func (m *engineMetrics) setActiveSinks(count int) {
	if m != nil {
		m.activeSinks.Set(float64(count))
	}
}

package websocket

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/v2xstreams/metric"
)

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	broadcastDuration  prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers the metrics. A nil registry, or one that
// already holds them, yields nil.
func newMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Envelopes written to clients",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to hand one event to all clients",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2xstreams",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket server errors",
		}, []string{"error_type"}),
	}

	const service = "websocket"
	for _, err := range []error{
		registry.RegisterGauge(service, "clients_connected", m.clientsConnected),
		registry.RegisterCounter(service, "client_connections_total", m.connectionTotal),
		registry.RegisterCounterVec(service, "client_disconnections_total", m.disconnectionTotal),
		registry.RegisterCounterVec(service, "messages_sent_total", m.messagesSent),
		registry.RegisterCounter(service, "bytes_sent_total", m.bytesSent),
		registry.RegisterHistogram(service, "broadcast_duration_seconds", m.broadcastDuration),
		registry.RegisterCounterVec(service, "errors_total", m.errorsTotal),
	} {
		if err != nil {
			logger.Warn("WebSocket metrics disabled", "error", err)
			return nil
		}
	}
	return m
}

// Package metric provides the Prometheus registry shared by v2xstreams
// components, the core ingestion metrics and the HTTP exposition server.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "v2xstreams"

// ConnectionState values reported by the connection_state gauge
const (
	ConnectionDisabled   = 0
	ConnectionIdle       = 1
	ConnectionConnecting = 2
	ConnectionConnected  = 3
)

// Metrics contains the pipeline metrics every deployment exposes
type Metrics struct {
	DocumentsFramed  prometheus.Counter
	MessagesDecoded  *prometheus.CounterVec
	DecodeDrops      *prometheus.CounterVec
	StoreEntities    *prometheus.GaugeVec
	StoreEvictions   *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	ConnectionState  prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	SinkEvents       *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	HealthCheckState *prometheus.GaugeVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metric set, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		DocumentsFramed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "framer",
			Name:      "documents_total",
			Help:      "JSON documents recovered from the input stream",
		}),
		MessagesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "messages_total",
			Help:      "Messages decoded by message type",
		}, []string{"type"}),
		DecodeDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "drops_total",
			Help:      "Documents dropped by the decoder by reason",
		}, []string{"reason"}),
		StoreEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "entities",
			Help:      "Live entities held in the message store by type",
		}, []string{"type"}),
		StoreEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "evictions_total",
			Help:      "Entities removed from the store by type and cause",
		}, []string{"type", "cause"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one sweep pass",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "connection_state",
			Help:      "Source connection state (0=disabled, 1=idle, 2=connecting, 3=connected)",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts made to the source",
		}),
		SinkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Store events delivered by sink",
		}, []string{"sink", "action"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Store events a sink failed to deliver",
		}, []string{"sink"}),
		HealthCheckState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.DocumentsFramed,
		c.MessagesDecoded,
		c.DecodeDrops,
		c.StoreEntities,
		c.StoreEvictions,
		c.SweepDuration,
		c.ConnectionState,
		c.ConnectAttempts,
		c.SinkEvents,
		c.SinkErrors,
		c.HealthCheckState,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordDocumentFramed counts one recovered document
func (c *Metrics) RecordDocumentFramed() {
	c.DocumentsFramed.Inc()
}

// RecordDecoded counts one decoded message of the given type
func (c *Metrics) RecordDecoded(messageType string) {
	c.MessagesDecoded.WithLabelValues(messageType).Inc()
}

// RecordDrop counts one dropped document
func (c *Metrics) RecordDrop(reason string) {
	c.DecodeDrops.WithLabelValues(reason).Inc()
}

// RecordStoreSize sets the live entity count for a type
func (c *Metrics) RecordStoreSize(messageType string, n int) {
	c.StoreEntities.WithLabelValues(messageType).Set(float64(n))
}

// RecordEviction counts one removed entity
func (c *Metrics) RecordEviction(messageType, cause string) {
	c.StoreEvictions.WithLabelValues(messageType, cause).Inc()
}

// RecordSweep records the duration of a sweep pass
func (c *Metrics) RecordSweep(duration time.Duration) {
	c.SweepDuration.Observe(duration.Seconds())
}

// RecordConnectionState updates the source connection gauge
func (c *Metrics) RecordConnectionState(state int) {
	c.ConnectionState.Set(float64(state))
}

// RecordConnectAttempt counts one dial
func (c *Metrics) RecordConnectAttempt() {
	c.ConnectAttempts.Inc()
}

// RecordSinkEvent counts one delivered store event
func (c *Metrics) RecordSinkEvent(sink, action string) {
	c.SinkEvents.WithLabelValues(sink, action).Inc()
}

// RecordSinkError counts one failed delivery
func (c *Metrics) RecordSinkError(sink string) {
	c.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckState.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

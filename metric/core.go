package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics (not router-specific)
type Metrics struct {
	// Session metrics
	SessionStatus   prometheus.Gauge
	SessionRestarts prometheus.Counter

	// Broker metrics
	BrokerConnected      prometheus.Gauge
	BrokerReconnects     prometheus.Counter
	BrokerCircuitBreaker prometheus.Gauge

	// Schema cache metrics
	SchemasLoaded prometheus.Gauge
	SchemasFailed prometheus.Gauge

	// Sink metrics
	SinkWriteFailures *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schemagate",
				Subsystem: "session",
				Name:      "status",
				Help:      "Session lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping)",
			},
		),

		SessionRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "session",
				Name:      "restarts_total",
				Help:      "Total number of session restarts",
			},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schemagate",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
		),

		BrokerCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schemagate",
				Subsystem: "broker",
				Name:      "circuit_breaker",
				Help:      "Broker circuit breaker status (0=closed, 1=open)",
			},
		),

		SchemasLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schemagate",
				Subsystem: "schema",
				Name:      "loaded",
				Help:      "Number of schemas loaded by the current session",
			},
		),

		SchemasFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "schemagate",
				Subsystem: "schema",
				Name:      "failed",
				Help:      "Number of schemas that failed to load in the current session",
			},
		),

		SinkWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "schemagate",
				Subsystem: "sink",
				Name:      "write_failures_total",
				Help:      "Total number of swallowed sink write failures",
			},
			[]string{"sink"},
		),
	}
}

// RecordSessionStatus updates the session lifecycle gauge
func (c *Metrics) RecordSessionStatus(state int) {
	c.SessionStatus.Set(float64(state))
}

// RecordSessionRestart increments the restart counter
func (c *Metrics) RecordSessionRestart() {
	c.SessionRestarts.Inc()
}

// RecordBrokerStatus updates the broker connection gauge
func (c *Metrics) RecordBrokerStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerReconnect increments the reconnection counter
func (c *Metrics) RecordBrokerReconnect() {
	c.BrokerReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	c.BrokerCircuitBreaker.Set(value)
}

// RecordSchemaCache records the outcome of a schema cache population
func (c *Metrics) RecordSchemaCache(loaded, failed int) {
	c.SchemasLoaded.Set(float64(loaded))
	c.SchemasFailed.Set(float64(failed))
}

// RecordSinkFailure increments the swallowed-failure counter for a sink
func (c *Metrics) RecordSinkFailure(sink string) {
	c.SinkWriteFailures.WithLabelValues(sink).Inc()
}

package router

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/schemagate/metric"
)

// Metric label values for processing outcomes.
const (
	statusValidated = "validated"
	statusFailed    = "failed"

	errorNone       = "none"
	errorDecode     = "json_decode_error"
	errorNoSchema   = "schema_unavailable"
	errorUnexpected = "unexpected_exception"
)

// unknownLabel stands in for any subject, room, or state the payload does
// not carry.
const unknownLabel = "unknown"

// Metrics holds the per-message Prometheus metrics. Create it once per
// process and share it across sessions: collectors register with the
// registry at construction, so a per-session Metrics would collide with
// its predecessor after a restart.
type Metrics struct {
	messagesProcessed *prometheus.CounterVec // by status, subject and error_type
	actuatorState     *prometheus.GaugeVec   // one-hot by actuator, room and state
}

// NewMetrics creates and registers router metrics with the provided
// registry. A nil registry disables metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &Metrics{
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemagate",
			Subsystem: "router",
			Name:      "messages_processed_total",
			Help:      "Messages handled, by outcome, subject and error type",
		}, []string{"status", "subject", "error_type"}),

		actuatorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schemagate",
			Subsystem: "router",
			Name:      "actuator_state",
			Help:      "Last state each actuator reported (1 marks the current state)",
		}, []string{"actuator", "room", "state"}),
	}

	if err := registry.RegisterCounterVec("router", "messages_processed", m.messagesProcessed); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("router", "actuator_state", m.actuatorState); err != nil {
		return nil, err
	}

	return m, nil
}

// recordProcessed counts one processing outcome. Failed validations call
// this once per failure record, so the counter reflects reported fields,
// not just messages.
func (m *Metrics) recordProcessed(status, subject, errorType string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(status, subject, errorType).Inc()
}

// recordState moves the one-hot state gauge for an actuator/room pair.
// Series for earlier states are deleted so exactly one state reads 1.
func (m *Metrics) recordState(actuator, room, state string) {
	if m == nil {
		return
	}
	m.actuatorState.DeletePartialMatch(prometheus.Labels{"actuator": actuator, "room": room})
	m.actuatorState.WithLabelValues(actuator, room, state).Set(1)
}

// Package router implements the validation message path: topic lookup,
// payload decode, schema validation, and the publish decision to the
// mapped validated or failed topic.
//
// Sensor and actuator traffic differ in one policy. A sensor route whose
// schema is undeclared, missing, or failed to load forwards messages
// unvalidated (fail-open): telemetry must keep flowing while an operator
// fixes a schema. An actuator route on the same footing drops the message
// (fail-closed): commands and status reports never pass unchecked.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/schema"
	"github.com/c360/schemagate/sink"
	"github.com/c360/schemagate/transport"
)

// Router is the message-handling core of one session. It holds the
// session's immutable mapping index and schema cache; everything it needs
// per message is read-only, so a single instance serves the whole session
// without locking.
type Router struct {
	index      *mapping.Index
	cache      *schema.Cache
	client     transport.Client
	timeseries sink.Writer
	metrics    *Metrics
	logger     *slog.Logger
}

// New wires a router over one session's mapping index and schema cache.
// A nil time-series writer disables sink writes; nil metrics disable
// counters. Index, cache, and client are required.
func New(
	index *mapping.Index,
	cache *schema.Cache,
	client transport.Client,
	timeseries sink.Writer,
	metrics *Metrics,
	logger *slog.Logger,
) (*Router, error) {
	if index == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "mapping index required")
	}
	if cache == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "schema cache required")
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "transport client required")
	}
	if timeseries == nil {
		timeseries = sink.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		index:      index,
		cache:      cache,
		client:     client,
		timeseries: timeseries,
		metrics:    metrics,
		logger:     logger.With("component", "router"),
	}, nil
}

// HandleMessage processes one inbound message end to end. It never
// returns an error and never lets a panic escape: every failure is
// contained, logged, and counted here, so one bad message cannot take
// down the session.
func (r *Router) HandleMessage(ctx context.Context, topic string, payload []byte) {
	route, ok := r.index.Lookup(topic)
	if !ok {
		// Unmapped topics are expected noise from unrelated publishers.
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic recovered while handling message",
				"topic", topic, "panic", rec)
			r.metrics.recordProcessed(statusFailed, route.Subject(), errorUnexpected)
		}
	}()

	record, err := decodeRecord(payload)
	if err != nil {
		// Malformed payloads are dropped, never forwarded.
		r.logger.Warn("dropping undecodable payload", "topic", topic, "error", err)
		r.metrics.recordProcessed(statusFailed, route.Subject(), errorDecode)
		return
	}

	validator, ok := r.lookupValidator(route)
	if !ok {
		if route.FailOpen() {
			r.logger.Debug("no validator for topic, forwarding unvalidated",
				"topic", topic, "schema", route.SchemaPath())
			r.forwardValidated(ctx, route, topic, payload, record)
			return
		}
		r.logger.Debug("no validator for actuator topic, dropping message",
			"topic", topic, "actuator", route.Subject(), "schema", route.SchemaPath())
		r.metrics.recordProcessed(statusFailed, route.Subject(), errorNoSchema)
		return
	}

	failures := validator.Validate(record)
	if len(failures) == 0 {
		r.forwardValidated(ctx, route, topic, payload, record)
		return
	}
	r.publishFailure(ctx, route, topic, record, failures)
}

// lookupValidator resolves the compiled validator for a route. Missing
// means the mapping names no schema or its load failed at session start;
// the route's fail-open policy decides what happens next.
func (r *Router) lookupValidator(route *mapping.Route) (*schema.Validator, bool) {
	path := route.SchemaPath()
	if path == "" {
		return nil, false
	}
	return r.cache.Lookup(path)
}

// forwardValidated republishes the raw bytes untouched, so downstream
// consumers get exactly what the producer sent, then records the success.
// A status report from an actuator also moves its last-known-state gauge.
func (r *Router) forwardValidated(ctx context.Context, route *mapping.Route, topic string, payload []byte, record map[string]any) {
	if err := r.client.Publish(ctx, route.ValidatedTopic(), payload, false); err != nil {
		r.logger.Warn("validated publish failed",
			"topic", route.ValidatedTopic(), "error", err)
	}
	r.timeseries.WriteValidated(ctx, topic, record)
	r.metrics.recordProcessed(statusValidated, successSubject(route, record), errorNone)

	if route.Kind == mapping.KindActuatorStatus {
		r.metrics.recordState(route.Actuator.ActuatorID,
			stringField(record, "room"), stringField(record, "state"))
	}
}

// publishFailure classifies the raw failures, publishes the envelope to
// the route's failed topic, and counts one failure per reported field.
func (r *Router) publishFailure(ctx context.Context, route *mapping.Route, topic string, record map[string]any, failures []schema.RawFailure) {
	records := schema.Classify(failures)
	envelope := newEnvelope(route, records, record)

	body, err := json.Marshal(envelope)
	if err != nil {
		r.logger.Error("failure envelope not marshalable", "topic", topic, "error", err)
		r.metrics.recordProcessed(statusFailed, route.Subject(), errorUnexpected)
		return
	}

	if err := r.client.Publish(ctx, route.FailedTopic(), body, false); err != nil {
		r.logger.Warn("failure envelope publish failed",
			"topic", route.FailedTopic(), "error", err)
	}
	r.timeseries.WriteFailed(ctx, topic, envelope)

	for _, rec := range records {
		r.metrics.recordProcessed(statusFailed, route.Subject(), rec.ErrorType)
	}
}

// decodeRecord parses a payload as a single JSON object. Scalars, arrays,
// and null are decode failures: the validators are column-oriented and
// need named fields.
func decodeRecord(payload []byte) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.ErrNotAnObject
	}
	return record, nil
}

// successSubject labels success metrics: sensors report the payload's own
// sensor_id, actuators their configured id.
func successSubject(route *mapping.Route, record map[string]any) string {
	if route.Kind != mapping.KindSensor {
		return route.Subject()
	}
	return stringField(record, "sensor_id")
}

// stringField extracts a string field from a record, defaulting to the
// unknown sentinel when absent, empty, or not a string.
func stringField(record map[string]any, key string) string {
	if s, ok := record[key].(string); ok && s != "" {
		return s
	}
	return unknownLabel
}

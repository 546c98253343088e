package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/schema"
	"github.com/c360/schemagate/transport"
)

const climateSchema = `{
	"columns": {
		"sensor_id":   {"dtype": "str"},
		"temperature": {"dtype": "float", "checks": {"between": [-40, 85]}},
		"humidity":    {"dtype": "float", "checks": {"between": [0, 100]}}
	}
}`

const lampSchema = `{
	"columns": {
		"room":  {"dtype": "str", "checks": {"isin": ["kitchen", "living_room", "bedroom", "bathroom"]}},
		"state": {"dtype": "str", "checks": {"isin": ["on", "off", "dim"]}}
	},
	"strict": true
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSchema(t *testing.T, dir, name, doc string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// sinkWrite is one recorded sink call.
type sinkWrite struct {
	topic string
	body  map[string]any
}

// recordingSink captures sink calls for assertions. Setting
// panicOnValidated makes WriteValidated panic, exercising the message
// boundary's recovery.
type recordingSink struct {
	mu               sync.Mutex
	validated        []sinkWrite
	failed           []sinkWrite
	panicOnValidated bool
}

func (s *recordingSink) WriteValidated(_ context.Context, topic string, record map[string]any) {
	if s.panicOnValidated {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated = append(s.validated, sinkWrite{topic: topic, body: record})
}

func (s *recordingSink) WriteFailed(_ context.Context, topic string, envelope map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, sinkWrite{topic: topic, body: envelope})
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Close(context.Context) error { return nil }

type fixture struct {
	client   *transport.Loopback
	registry *metric.MetricsRegistry
	sink     *recordingSink
	router   *Router
}

func newTestRouter(t *testing.T, sensors []mapping.SensorMapping, actuators []mapping.ActuatorMapping) *fixture {
	t.Helper()

	idx, err := mapping.BuildIndex(sensors, actuators)
	require.NoError(t, err)

	cache := schema.NewCache(discardLogger())
	cache.Populate(idx.SchemaPaths())

	client := transport.NewLoopback()
	require.NoError(t, client.Connect(context.Background()))

	registry := metric.NewMetricsRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	recorder := &recordingSink{}
	r, err := New(idx, cache, client, recorder, metrics, discardLogger())
	require.NoError(t, err)

	return &fixture{client: client, registry: registry, sink: recorder, router: r}
}

// counterValue reads one counter or gauge series by full metric name and
// label subset, returning 0 when no series matches.
func counterValue(t *testing.T, registry *metric.MetricsRegistry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

// seriesLabels returns the label sets of every series of a metric that
// matches the given label subset.
func seriesLabels(t *testing.T, registry *metric.MetricsRegistry, name string, labels map[string]string) []map[string]string {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var out []map[string]string
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			set := make(map[string]string, len(m.GetLabel()))
			for _, p := range m.GetLabel() {
				set[p.GetName()] = p.GetValue()
			}
			out = append(out, set)
		}
	}
	return out
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func climateSensor(t *testing.T) mapping.SensorMapping {
	t.Helper()
	return mapping.SensorMapping{
		Source:    "sensors/temp1",
		Validated: "sensors/temp1/validated",
		Failed:    "sensors/temp1/failed",
		Schema:    writeSchema(t, t.TempDir(), "climate.json", climateSchema),
	}
}

func lampActuator(t *testing.T) mapping.ActuatorMapping {
	t.Helper()
	dir := t.TempDir()
	return mapping.ActuatorMapping{
		ActuatorID:            "lamp1",
		CommandTopic:          "actuators/lamp1/command",
		CommandValidatedTopic: "actuators/lamp1/command/validated",
		CommandFailedTopic:    "actuators/lamp1/command/failed",
		CommandSchema:         writeSchema(t, dir, "lamp_command.json", lampSchema),
		StatusTopic:           "actuators/lamp1/status",
		StatusValidatedTopic:  "actuators/lamp1/status/validated",
		StatusFailedTopic:     "actuators/lamp1/status/failed",
		StatusSchema:          writeSchema(t, dir, "lamp_status.json", lampSchema),
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	idx, err := mapping.BuildIndex(nil, nil)
	require.NoError(t, err)
	cache := schema.NewCache(discardLogger())
	client := transport.NewLoopback()

	_, err = New(nil, cache, client, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(idx, nil, client, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(idx, cache, nil, nil, nil, nil)
	assert.Error(t, err)

	r, err := New(idx, cache, client, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestHandleMessage_UnmappedTopicIgnored(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	fx.router.HandleMessage(context.Background(), "some/other/topic", []byte(`{"temperature": 21}`))

	assert.Empty(t, fx.client.Published())
	assert.Empty(t, fx.sink.validated)
	assert.Empty(t, fx.sink.failed)
}

func TestHandleMessage_ValidSensorRepublishedByteIdentical(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	// Unusual spacing and key order survive the round trip: the router
	// forwards the raw bytes, it never re-marshals.
	payload := []byte(`{ "humidity": 50.5,   "temperature": 21.25, "sensor_id": "temp1" }`)
	fx.router.HandleMessage(context.Background(), "sensors/temp1", payload)

	published := fx.client.PublishedTo("sensors/temp1/validated")
	require.Len(t, published, 1)
	assert.Equal(t, payload, published[0].Payload)
	assert.False(t, published[0].Retained)
	assert.Empty(t, fx.client.PublishedTo("sensors/temp1/failed"))

	require.Len(t, fx.sink.validated, 1)
	assert.Equal(t, "sensors/temp1", fx.sink.validated[0].topic)
	assert.Equal(t, "temp1", fx.sink.validated[0].body["sensor_id"])

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "validated", "subject": "temp1", "error_type": "none"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_DecodeErrorDropsMessage(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	fx.router.HandleMessage(context.Background(), "sensors/temp1", []byte(`{not json`))

	assert.Empty(t, fx.client.Published(), "undecodable payloads are dropped, not forwarded")
	assert.Empty(t, fx.sink.validated)
	assert.Empty(t, fx.sink.failed)

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "sensors/temp1", "error_type": "json_decode_error"})
	assert.Equal(t, 1.0, got)
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "object", payload: `{"a": 1}`, wantErr: false},
		{name: "nested_object", payload: `{"a": {"b": [1, 2]}}`, wantErr: false},
		{name: "empty_object", payload: `{}`, wantErr: false},
		{name: "null", payload: `null`, wantErr: true},
		{name: "array", payload: `[1, 2]`, wantErr: true},
		{name: "scalar", payload: `42`, wantErr: true},
		{name: "string", payload: `"hello"`, wantErr: true},
		{name: "truncated", payload: `{"a":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := decodeRecord([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, record)
		})
	}
}

func TestDecodeRecord_NullIsNotAnObject(t *testing.T) {
	_, err := decodeRecord([]byte(`null`))
	assert.ErrorIs(t, err, pkgerrors.ErrNotAnObject)
}

func TestHandleMessage_NoSchemaFailOpen(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{{
		Source:    "sensors/raw",
		Validated: "sensors/raw/validated",
		Failed:    "sensors/raw/failed",
	}}, nil)

	payload := []byte(`{"anything": [1, 2, 3]}`)
	fx.router.HandleMessage(context.Background(), "sensors/raw", payload)

	published := fx.client.PublishedTo("sensors/raw/validated")
	require.Len(t, published, 1)
	assert.Equal(t, payload, published[0].Payload)

	// No sensor_id field in the payload, so the subject falls back.
	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "validated", "subject": "unknown", "error_type": "none"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_SchemaLoadFailureFailOpen(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{{
		Source:    "sensors/temp1",
		Validated: "sensors/temp1/validated",
		Failed:    "sensors/temp1/failed",
		Schema:    filepath.Join(t.TempDir(), "missing.json"),
	}}, nil)

	payload := []byte(`{"sensor_id": "temp1", "temperature": 9000}`)
	fx.router.HandleMessage(context.Background(), "sensors/temp1", payload)

	published := fx.client.PublishedTo("sensors/temp1/validated")
	require.Len(t, published, 1)
	assert.Equal(t, payload, published[0].Payload)
	assert.Empty(t, fx.client.PublishedTo("sensors/temp1/failed"))
	assert.Len(t, fx.sink.validated, 1)
}

func TestHandleMessage_OutOfRangeEnvelope(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	payload := []byte(`{"sensor_id": "temp1", "temperature": 91, "humidity": 50}`)
	fx.router.HandleMessage(context.Background(), "sensors/temp1", payload)

	assert.Empty(t, fx.client.PublishedTo("sensors/temp1/validated"))
	published := fx.client.PublishedTo("sensors/temp1/failed")
	require.Len(t, published, 1)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(published[0].Payload, &envelope))
	assert.Equal(t, "sensors/temp1", envelope["sensor"])

	records, ok := envelope["errors"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	rec, ok := records[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "temperature", rec["column"])
	assert.Equal(t, "out_of_range", rec["error_type"])
	assert.Equal(t, 91.0, rec["failed_value"])

	originalJSON, err := json.Marshal(envelope["original_payload"])
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(originalJSON))

	require.Len(t, fx.sink.failed, 1)
	assert.Equal(t, "sensors/temp1", fx.sink.failed[0].topic)

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "sensors/temp1", "error_type": "out_of_range"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_MissingFieldEnvelope(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	fx.router.HandleMessage(context.Background(), "sensors/temp1",
		[]byte(`{"sensor_id": "temp1", "humidity": 50}`))

	published := fx.client.PublishedTo("sensors/temp1/failed")
	require.Len(t, published, 1)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(published[0].Payload, &envelope))

	records := envelope["errors"].([]any)
	require.Len(t, records, 1)
	rec := records[0].(map[string]any)
	assert.Equal(t, "temperature", rec["column"])
	assert.Equal(t, "missing_field", rec["error_type"])
	assert.Equal(t, "N/A (Missing Field)", rec["failed_value"])
}

func TestHandleMessage_CountsPerFailureRecord(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)

	// Both required fields missing: two failure records, two increments
	// on the same subject, one per reported field.
	fx.router.HandleMessage(context.Background(), "sensors/temp1",
		[]byte(`{"sensor_id": "temp1"}`))

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "sensors/temp1", "error_type": "missing_field"})
	assert.Equal(t, 2.0, got)
}

func TestHandleMessage_SubjectTrimsTopicSlashes(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{{
		Source:    "/sensors/temp1/",
		Validated: "/sensors/temp1/validated/",
		Failed:    "/sensors/temp1/failed/",
		Schema:    writeSchema(t, t.TempDir(), "climate.json", climateSchema),
	}}, nil)

	fx.router.HandleMessage(context.Background(), "/sensors/temp1/",
		[]byte(`{"sensor_id": "temp1", "humidity": 50}`))

	published := fx.client.PublishedTo("/sensors/temp1/failed/")
	require.Len(t, published, 1)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(published[0].Payload, &envelope))
	assert.Equal(t, "sensors/temp1", envelope["sensor"])
}

func TestHandleMessage_ActuatorCommandValidated(t *testing.T) {
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{lampActuator(t)})

	payload := []byte(`{"room": "kitchen", "state": "on"}`)
	fx.router.HandleMessage(context.Background(), "actuators/lamp1/command", payload)

	published := fx.client.PublishedTo("actuators/lamp1/command/validated")
	require.Len(t, published, 1)
	assert.Equal(t, payload, published[0].Payload)

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "validated", "subject": "lamp1", "error_type": "none"})
	assert.Equal(t, 1.0, got)

	// Commands never move the state gauge; only status reports do.
	assert.Empty(t, seriesLabels(t, fx.registry, "schemagate_router_actuator_state",
		map[string]string{"actuator": "lamp1"}))
}

func TestHandleMessage_ActuatorCommandInvalidEnvelope(t *testing.T) {
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{lampActuator(t)})

	payload := []byte(`{"room": "kitchen", "state": "blink"}`)
	fx.router.HandleMessage(context.Background(), "actuators/lamp1/command", payload)

	assert.Empty(t, fx.client.PublishedTo("actuators/lamp1/command/validated"))
	published := fx.client.PublishedTo("actuators/lamp1/command/failed")
	require.Len(t, published, 1)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(published[0].Payload, &envelope))
	assert.Equal(t, "lamp1", envelope["actuator"])
	assert.NotContains(t, envelope, "sensor")

	records := envelope["errors"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "state", records[0].(map[string]any)["column"])
}

func TestHandleMessage_ActuatorFailClosedOnLoadFailure(t *testing.T) {
	actuator := lampActuator(t)
	actuator.CommandSchema = filepath.Join(t.TempDir(), "missing.json")
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{actuator})

	fx.router.HandleMessage(context.Background(), "actuators/lamp1/command",
		[]byte(`{"room": "kitchen", "state": "on"}`))

	assert.Empty(t, fx.client.Published(), "actuator traffic never passes unchecked")
	assert.Empty(t, fx.sink.validated)
	assert.Empty(t, fx.sink.failed)

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "lamp1", "error_type": "schema_unavailable"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_ActuatorFailClosedWithoutSchema(t *testing.T) {
	actuator := lampActuator(t)
	actuator.StatusSchema = ""
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{actuator})

	fx.router.HandleMessage(context.Background(), "actuators/lamp1/status",
		[]byte(`{"room": "kitchen", "state": "on"}`))

	assert.Empty(t, fx.client.PublishedTo("actuators/lamp1/status/validated"))
	assert.Empty(t, fx.client.PublishedTo("actuators/lamp1/status/failed"))

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "lamp1", "error_type": "schema_unavailable"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_StatusUpdatesStateGauge(t *testing.T) {
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{lampActuator(t)})

	fx.router.HandleMessage(context.Background(), "actuators/lamp1/status",
		[]byte(`{"room": "living_room", "state": "on"}`))

	got := counterValue(t, fx.registry, "schemagate_router_actuator_state",
		map[string]string{"actuator": "lamp1", "room": "living_room", "state": "on"})
	assert.Equal(t, 1.0, got)

	// A new report replaces the previous state series entirely.
	fx.router.HandleMessage(context.Background(), "actuators/lamp1/status",
		[]byte(`{"room": "living_room", "state": "off"}`))

	series := seriesLabels(t, fx.registry, "schemagate_router_actuator_state",
		map[string]string{"actuator": "lamp1", "room": "living_room"})
	require.Len(t, series, 1)
	assert.Equal(t, "off", series[0]["state"])
}

func TestHandleMessage_StatusDefaultsRoomAndState(t *testing.T) {
	actuator := lampActuator(t)
	actuator.StatusSchema = writeSchema(t, t.TempDir(), "permissive.json",
		`{"columns": {"actuator_id": {"dtype": "str"}}}`)
	fx := newTestRouter(t, nil, []mapping.ActuatorMapping{actuator})

	fx.router.HandleMessage(context.Background(), "actuators/lamp1/status",
		[]byte(`{"actuator_id": "lamp1"}`))

	got := counterValue(t, fx.registry, "schemagate_router_actuator_state",
		map[string]string{"actuator": "lamp1", "room": "unknown", "state": "unknown"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_PanicContained(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)
	fx.sink.panicOnValidated = true

	assert.NotPanics(t, func() {
		fx.router.HandleMessage(context.Background(), "sensors/temp1",
			[]byte(`{"sensor_id": "temp1", "temperature": 21, "humidity": 50}`))
	})

	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "failed", "subject": "sensors/temp1", "error_type": "unexpected_exception"})
	assert.Equal(t, 1.0, got)
}

func TestHandleMessage_PublishErrorSwallowed(t *testing.T) {
	fx := newTestRouter(t, []mapping.SensorMapping{climateSensor(t)}, nil)
	fx.client.PublishErr = assert.AnError

	assert.NotPanics(t, func() {
		fx.router.HandleMessage(context.Background(), "sensors/temp1",
			[]byte(`{"sensor_id": "temp1", "temperature": 21, "humidity": 50}`))
	})

	// Sink write and outcome counter are unaffected by the publish error.
	assert.Len(t, fx.sink.validated, 1)
	got := counterValue(t, fx.registry, "schemagate_router_messages_processed_total",
		map[string]string{"status": "validated", "subject": "temp1", "error_type": "none"})
	assert.Equal(t, 1.0, got)
}

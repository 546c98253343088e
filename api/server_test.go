package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/schemagate/config"
	pkgerrors "github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/session"
)

type fakeSessions struct {
	mu         sync.Mutex
	restarts   int
	restartErr error
	info       session.Info
}

func (f *fakeSessions) Restart(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartErr
}

func (f *fakeSessions) Health() session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeSessions) RestartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSensor() mapping.SensorMapping {
	return mapping.SensorMapping{
		Source:    "sensors/temp1",
		Validated: "sensors/temp1/validated",
		Failed:    "sensors/temp1/failed",
	}
}

func testActuator() mapping.ActuatorMapping {
	return mapping.ActuatorMapping{
		ActuatorID:            "lamp1",
		CommandTopic:          "actuators/lamp1/command",
		CommandValidatedTopic: "actuators/lamp1/command/validated",
		CommandFailedTopic:    "actuators/lamp1/command/failed",
		StatusTopic:           "actuators/lamp1/status",
		StatusValidatedTopic:  "actuators/lamp1/status/validated",
		StatusFailedTopic:     "actuators/lamp1/status/failed",
	}
}

type apiFixture struct {
	store    *config.Store
	sessions *fakeSessions
	server   *Server
	ts       *httptest.Server
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.SchemaDir = filepath.Join(dir, "schemas")

	store, err := config.NewStore(filepath.Join(dir, "config.json"), cfg, discardLogger())
	require.NoError(t, err)

	sessions := &fakeSessions{info: session.Info{State: "stopped"}}
	server, err := NewServer(store, sessions, WithLogger(discardLogger()))
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.notifier.Close()
	})

	return &apiFixture{store: store, sessions: sessions, server: server, ts: ts}
}

// do sends a request with an optional JSON payload and returns status,
// response body, and headers. A json.RawMessage payload is sent verbatim.
func (fx *apiFixture) do(t *testing.T, method, path string, payload any) (int, []byte, http.Header) {
	t.Helper()

	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		body = bytes.NewReader(p)
	default:
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, fx.ts.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp.StatusCode, data, resp.Header
}

func (fx *apiFixture) get(t *testing.T, path string) (int, []byte, http.Header) {
	t.Helper()
	return fx.do(t, http.MethodGet, path, nil)
}

func TestNewServer_Validation(t *testing.T) {
	dir := t.TempDir()
	store, err := config.NewStore(filepath.Join(dir, "config.json"), config.Default(), discardLogger())
	require.NoError(t, err)
	sessions := &fakeSessions{}

	_, err = NewServer(nil, sessions)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingConfig)

	_, err = NewServer(store, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingConfig)

	for name, opt := range map[string]Option{
		"nil logger":       WithLogger(nil),
		"port zero":        WithPort(0),
		"port too big":     WithPort(70000),
		"zero restart":     WithRestartTimeout(0),
		"negative restart": WithRestartTimeout(-time.Second),
	} {
		_, err = NewServer(store, sessions, opt)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig, name)
	}
}

func TestNewServer_PortDefaultsFromConfig(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, config.DefaultAPIPort, fx.server.port)

	server, err := NewServer(fx.store, fx.sessions, WithPort(9000))
	require.NoError(t, err)
	assert.Equal(t, 9000, server.port)
}

func TestServer_BrokerSettingsRoundTrip(t *testing.T) {
	fx := newFixture(t)

	status, body, headers := fx.get(t, "/api/mqtt-settings")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))
	assert.JSONEq(t, `{"broker": "", "port": 0, "tls": {"enabled": false}}`, string(body))

	status, body, _ = fx.do(t, http.MethodPost, "/api/mqtt-settings", map[string]any{
		"broker":   "broker.local",
		"port":     1883,
		"username": "svc",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "MQTT settings updated successfully.")
	assert.Equal(t, 1, fx.sessions.RestartCount())

	broker := fx.store.Get().Broker
	assert.Equal(t, "broker.local", broker.Host)
	assert.Equal(t, 1883, broker.Port)
	assert.Equal(t, "svc", broker.Username)

	status, body, _ = fx.get(t, "/api/mqtt-settings")
	require.Equal(t, http.StatusOK, status)
	var got config.BrokerConfig
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "broker.local", got.Host)
}

func TestServer_BrokerSettingsRejectsMissingHost(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/mqtt-settings", map[string]any{
		"port": 1883,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "broker host is required")
	assert.Zero(t, fx.sessions.RestartCount())
	assert.Empty(t, fx.store.Get().Broker.Host)
}

func TestServer_BrokerSettingsRejectsUnknownTransport(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/mqtt-settings", map[string]any{
		"broker":    "broker.local",
		"transport": "amqp",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "unknown transport")
	assert.Zero(t, fx.sessions.RestartCount())
}

func TestServer_BrokerSettingsRejectsMalformedBody(t *testing.T) {
	fx := newFixture(t)

	status, _, _ := fx.do(t, http.MethodPost, "/api/mqtt-settings", json.RawMessage(`{"broker": `))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_SensorMappings_EmptyListNotNull(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.get(t, "/api/topic-mappings")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(body))
}

func TestServer_SensorMappings_ReplaceList(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/topic-mappings",
		[]mapping.SensorMapping{testSensor()})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "Topic mappings updated successfully.")
	assert.Equal(t, 1, fx.sessions.RestartCount())

	status, body, _ = fx.get(t, "/api/topic-mappings")
	require.Equal(t, http.StatusOK, status)
	var got []mapping.SensorMapping
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "sensors/temp1", got[0].Source)

	// Replacing with an empty list clears every mapping.
	status, _, _ = fx.do(t, http.MethodPost, "/api/topic-mappings", []mapping.SensorMapping{})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, fx.store.Get().Sensors)
}

func TestServer_SensorMappings_ValidationFailure(t *testing.T) {
	fx := newFixture(t)

	incomplete := mapping.SensorMapping{Source: "sensors/temp1"}
	status, body, _ := fx.do(t, http.MethodPost, "/api/topic-mappings",
		[]mapping.SensorMapping{incomplete})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "validated and failed topics")
	assert.Zero(t, fx.sessions.RestartCount())
	assert.Empty(t, fx.store.Get().Sensors)
}

func TestServer_ActuatorMappings_RoundTrip(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/actuator-mappings",
		[]mapping.ActuatorMapping{testActuator()})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "Actuator mappings updated successfully.")

	status, body, _ = fx.get(t, "/api/actuator-mappings")
	require.Equal(t, http.StatusOK, status)
	var got []mapping.ActuatorMapping
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "lamp1", got[0].ActuatorID)
}

func TestServer_TopicConflictAcrossClasses(t *testing.T) {
	fx := newFixture(t)

	status, _, _ := fx.do(t, http.MethodPost, "/api/topic-mappings",
		[]mapping.SensorMapping{testSensor()})
	require.Equal(t, http.StatusOK, status)

	conflicting := testActuator()
	conflicting.CommandTopic = testSensor().Source
	status, body, _ := fx.do(t, http.MethodPost, "/api/actuator-mappings",
		[]mapping.ActuatorMapping{conflicting})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "sensors/temp1")
	assert.Empty(t, fx.store.Get().Actuators)
}

func TestServer_RestartFailureStillPersists(t *testing.T) {
	fx := newFixture(t)
	fx.sessions.restartErr = assert.AnError

	status, _, _ := fx.do(t, http.MethodPost, "/api/mqtt-settings", map[string]any{
		"broker": "broker.local",
		"port":   1883,
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "broker.local", fx.store.Get().Broker.Host)
}

func TestServer_Health(t *testing.T) {
	fx := newFixture(t)
	fx.sessions.info = session.Info{
		State:      "running",
		Generation: 3,
		SessionID:  "abc",
		Broker:     "connected",
		Topics:     2,
	}

	status, body, headers := fx.get(t, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))

	var got healthResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "running", got.Session.State)
	assert.Equal(t, uint64(3), got.Session.Generation)
	assert.Equal(t, 2, got.Session.Topics)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	fx := newFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/mqtt-settings"},
		{http.MethodPut, "/api/topic-mappings"},
		{http.MethodDelete, "/api/actuator-mappings"},
		{http.MethodPut, "/api/schemas"},
		{http.MethodPost, "/health"},
	} {
		status, _, _ := fx.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, status, "%s %s", tc.method, tc.path)
	}
}

func TestServer_RequestBodyTooLarge(t *testing.T) {
	fx := newFixture(t)

	huge := bytes.Repeat([]byte("a"), maxBodySize+1)
	req, err := http.NewRequest(http.MethodPost, fx.ts.URL+"/api/mqtt-settings", bytes.NewReader(huge))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_StopWithoutStart(t *testing.T) {
	fx := newFixture(t)
	assert.NoError(t, fx.server.Stop(context.Background()))
}

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/schemagate/config"
	"github.com/c360/schemagate/mapping"
)

const climateSchemaDoc = `{
  "columns": {
    "temperature": {"dtype": "float64", "checks": {"between": {"min_value": -40, "max_value": 85}}},
    "sensor_id": {"dtype": "str"}
  }
}`

func mustCreateSchema(t *testing.T, fx *apiFixture, filename, content string) {
	t.Helper()
	status, body, _ := fx.do(t, http.MethodPost, "/api/schemas", map[string]any{
		"filename": filename,
		"content":  json.RawMessage(content),
	})
	require.Equal(t, http.StatusCreated, status, "create %s: %s", filename, body)
}

func TestSchemas_ListEmptyWhenDirMissing(t *testing.T) {
	fx := newFixture(t)

	status, body, headers := fx.get(t, "/api/schemas")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))
	assert.JSONEq(t, `{"schemas": []}`, string(body))
}

func TestSchemas_CreateListGet(t *testing.T) {
	fx := newFixture(t)

	mustCreateSchema(t, fx, "climate.json", climateSchemaDoc)
	assert.Equal(t, 1, fx.sessions.RestartCount())

	// The file landed in the schema directory, reformatted.
	data, err := os.ReadFile(filepath.Join(fx.store.Get().SchemaDir, "climate.json"))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Contains(t, string(data), "\n  ")

	status, body, _ := fx.get(t, "/api/schemas")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"schemas": ["climate.json"]}`, string(body))

	status, body, headers := fx.get(t, "/api/schemas/climate.json")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.JSONEq(t, climateSchemaDoc, string(body))
}

func TestSchemas_ListIsSortedAndFiltered(t *testing.T) {
	fx := newFixture(t)

	mustCreateSchema(t, fx, "zeta.json", `{}`)
	mustCreateSchema(t, fx, "alpha.json", `{}`)

	dir := fx.store.Get().SchemaDir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o755))

	status, body, _ := fx.get(t, "/api/schemas")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"schemas": ["alpha.json", "zeta.json"]}`, string(body))
}

func TestSchemas_CreateDuplicateConflicts(t *testing.T) {
	fx := newFixture(t)

	mustCreateSchema(t, fx, "climate.json", `{}`)
	restarts := fx.sessions.RestartCount()

	status, body, _ := fx.do(t, http.MethodPost, "/api/schemas", map[string]any{
		"filename": "climate.json",
		"content":  json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), "already exists")
	assert.Equal(t, restarts, fx.sessions.RestartCount())
}

func TestSchemas_FilenameSafety(t *testing.T) {
	fx := newFixture(t)

	bad := []string{
		"",
		".json",
		"noext",
		"climate.yaml",
		"../escape.json",
		"sub/dir.json",
		`win\dir.json`,
		"/abs.json",
		"trick..json",
	}
	for _, name := range bad {
		status, _, _ := fx.do(t, http.MethodPost, "/api/schemas", map[string]any{
			"filename": name,
			"content":  json.RawMessage(`{}`),
		})
		assert.Equal(t, http.StatusBadRequest, status, "filename %q", name)
	}
	assert.Zero(t, fx.sessions.RestartCount())
}

func TestSchemas_CreateRequiresContent(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/schemas", map[string]any{
		"filename": "climate.json",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "content is required")

	status, _, _ = fx.do(t, http.MethodPost, "/api/schemas", map[string]any{
		"filename": "climate.json",
		"content":  nil,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSchemas_CreateRejectsMalformedEnvelope(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.do(t, http.MethodPost, "/api/schemas",
		json.RawMessage(`{"filename": "x.json", "content": {`))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "filename")
}

func TestSchemas_UpdateOverwrites(t *testing.T) {
	fx := newFixture(t)
	mustCreateSchema(t, fx, "climate.json", `{"columns": {}}`)
	restarts := fx.sessions.RestartCount()

	status, body, _ := fx.do(t, http.MethodPut, "/api/schemas/climate.json",
		json.RawMessage(climateSchemaDoc))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "updated successfully")
	assert.Equal(t, restarts+1, fx.sessions.RestartCount())

	status, body, _ = fx.get(t, "/api/schemas/climate.json")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, climateSchemaDoc, string(body))
}

func TestSchemas_UpdateMissingIs404(t *testing.T) {
	fx := newFixture(t)

	status, _, _ := fx.do(t, http.MethodPut, "/api/schemas/ghost.json", json.RawMessage(`{}`))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSchemas_UpdateRejectsInvalidJSON(t *testing.T) {
	fx := newFixture(t)
	mustCreateSchema(t, fx, "climate.json", `{}`)
	restarts := fx.sessions.RestartCount()

	for _, payload := range []json.RawMessage{json.RawMessage(""), json.RawMessage(`{"columns": `)} {
		status, body, _ := fx.do(t, http.MethodPut, "/api/schemas/climate.json", payload)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, string(body), "not valid JSON")
	}
	assert.Equal(t, restarts, fx.sessions.RestartCount())
}

func TestSchemas_GetMissingIs404(t *testing.T) {
	fx := newFixture(t)

	status, body, _ := fx.get(t, "/api/schemas/ghost.json")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "not found")
}

func TestSchemas_DeleteMissingIs404(t *testing.T) {
	fx := newFixture(t)

	status, _, _ := fx.do(t, http.MethodDelete, "/api/schemas/ghost.json", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSchemas_DeleteClearsMappingReferences(t *testing.T) {
	fx := newFixture(t)
	mustCreateSchema(t, fx, "climate.json", climateSchemaDoc)

	schemaPath := fx.store.Get().SchemaPath("climate.json")
	sensor := testSensor()
	sensor.Schema = schemaPath
	actuator := testActuator()
	actuator.CommandSchema = schemaPath
	_, err := fx.store.Update(func(c *config.Config) error {
		c.Sensors = []mapping.SensorMapping{sensor}
		c.Actuators = []mapping.ActuatorMapping{actuator}
		return nil
	})
	require.NoError(t, err)
	restarts := fx.sessions.RestartCount()

	status, body, _ := fx.do(t, http.MethodDelete, "/api/schemas/climate.json", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "deleted and mappings updated")
	assert.Equal(t, restarts+1, fx.sessions.RestartCount())

	_, statErr := os.Stat(filepath.Join(fx.store.Get().SchemaDir, "climate.json"))
	assert.True(t, os.IsNotExist(statErr))

	cfg := fx.store.Get()
	assert.Empty(t, cfg.Sensors[0].Schema)
	assert.Empty(t, cfg.Actuators[0].CommandSchema)
}

// Package timescale writes routing outcomes to a TimescaleDB hypertable.
package timescale

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/pkg/retry"
	"github.com/c360/schemagate/sink"
)

// defaultTable matches the Influx measurement so dashboards can share
// query names across backends.
const defaultTable = "mqtt_messages"

// Config holds TimescaleDB connection settings.
type Config struct {
	DSN   string `json:"dsn" yaml:"dsn"`
	Table string `json:"table" yaml:"table"`
}

// Enabled reports whether the configuration names a database.
func (c Config) Enabled() bool {
	return c.DSN != ""
}

// Writer records routing outcomes as rows with a JSONB payload column.
// Rows are written synchronously; errors are logged, never returned.
type Writer struct {
	db      *sql.DB
	insert  string
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewWriter wraps an existing database handle. Tests inject sqlmock here;
// production callers go through Open. The metrics argument may be nil.
func NewWriter(db *sql.DB, table string, logger *slog.Logger, metrics *metric.Metrics) *Writer {
	if table == "" {
		table = defaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		db: db,
		insert: fmt.Sprintf(
			"INSERT INTO %s (recorded_at, topic, status, sensor_id, error_type, error_column, payload)"+
				" VALUES (now(), $1, $2, $3, $4, $5, $6)", table),
		logger:  logger.With("component", "timescale-sink"),
		metrics: metrics,
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Writer, error) {
	if !cfg.Enabled() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("dsn is required"),
			"Writer", "Open", "validate TimescaleDB config")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.WrapFatal(err, "Writer", "Open", "open database")
	}

	// The database is often still starting when the gateway comes up.
	ping := func() error { return db.PingContext(ctx) }
	if err := retry.Do(ctx, retry.Quick(), ping); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "Writer", "Open", "ping database")
	}

	w := NewWriter(db, cfg.Table, logger, metrics)
	w.logger.Info("timescale writer initialized", "table", cfg.Table)
	return w, nil
}

// WriteValidated records a payload that passed validation.
func (w *Writer) WriteValidated(ctx context.Context, topic string, record map[string]any) {
	sensorID := "unknown"
	if v, ok := record["sensor_id"].(string); ok && v != "" {
		sensorID = v
	}

	payload, err := json.Marshal(record)
	if err != nil {
		w.swallow(topic, "encode payload", err)
		return
	}

	if _, err := w.db.ExecContext(ctx, w.insert,
		topic, "validated", sensorID, nil, nil, payload); err != nil {
		w.swallow(topic, "insert validated row", err)
	}
}

// WriteFailed records a validation failure envelope. The row identity
// comes from the subscription topic, not the untrusted payload.
func (w *Writer) WriteFailed(ctx context.Context, topic string, envelope map[string]any) {
	errorType, errorColumn := sink.PrimaryFailure(envelope)

	payload, err := json.Marshal(envelope)
	if err != nil {
		w.swallow(topic, "encode error report", err)
		return
	}

	if _, err := w.db.ExecContext(ctx, w.insert,
		topic, "failed", sink.SubjectTag(topic), errorType, errorColumn, payload); err != nil {
		w.swallow(topic, "insert failed row", err)
	}
}

// swallow logs a write failure and counts it, honoring the
// fire-and-forget contract.
func (w *Writer) swallow(topic, action string, err error) {
	w.logger.Warn("timescale write failed", "topic", topic, "action", action, "error", err)
	if w.metrics != nil {
		w.metrics.RecordSinkFailure(w.Name())
	}
}

// Name identifies the backend in logs and metrics.
func (w *Writer) Name() string { return "timescale" }

// Close releases the database handle.
func (w *Writer) Close(context.Context) error {
	if err := w.db.Close(); err != nil {
		return errors.WrapTransient(err, "Writer", "Close", "close database")
	}
	w.logger.Info("timescale writer closed")
	return nil
}

var _ sink.Writer = (*Writer)(nil)

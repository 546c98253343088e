// Package influx writes routing outcomes to InfluxDB v2.
package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/sink"
)

// measurement shared by validated and failed points; the status tag
// separates the two series.
const measurement = "mqtt_messages"

// nonFieldKeys are payload entries that never become fields: identity
// lives in tags, timestamps are assigned by the server.
var nonFieldKeys = map[string]struct{}{
	"sensor_id": {},
	"timestamp": {},
}

// Config holds InfluxDB v2 connection settings.
type Config struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// Enabled reports whether the configuration is complete enough to write.
func (c Config) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// Writer records routing outcomes via the non-blocking write API.
// Writes are batched in the background; errors surface on the client's
// error channel and are logged, never returned.
type Writer struct {
	client    influxdb2.Client
	writeAPI  influxapi.WriteAPI
	logger    *slog.Logger
	metrics   *metric.Metrics
	drainDone chan struct{}
}

// NewWriter creates an InfluxDB writer. The metrics argument may be nil.
func NewWriter(cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Writer, error) {
	if !cfg.Enabled() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("url, token, org and bucket are all required"),
			"Writer", "NewWriter", "validate InfluxDB config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := &Writer{
		client:    client,
		writeAPI:  writeAPI,
		logger:    logger.With("component", "influx-sink"),
		metrics:   metrics,
		drainDone: make(chan struct{}),
	}

	// The error channel closes when the client does; the drain goroutine
	// is the only reader.
	go func() {
		defer close(w.drainDone)
		for err := range writeAPI.Errors() {
			w.logger.Warn("influx write failed", "error", err)
			if w.metrics != nil {
				w.metrics.RecordSinkFailure(w.Name())
			}
		}
	}()

	w.logger.Info("influx writer initialized", "url", cfg.URL, "bucket", cfg.Bucket)

	return w, nil
}

// WriteValidated records a payload that passed validation. Scalar payload
// entries become fields; identity and outcome live in tags.
func (w *Writer) WriteValidated(_ context.Context, topic string, record map[string]any) {
	w.writeAPI.WritePoint(validatedPoint(topic, record))
}

// WriteFailed records a validation failure envelope. The series identity
// comes from the subscription topic, not the untrusted payload.
func (w *Writer) WriteFailed(_ context.Context, topic string, envelope map[string]any) {
	point, err := failedPoint(topic, envelope)
	if err != nil {
		w.logger.Warn("failed to encode error report", "topic", topic, "error", err)
		if w.metrics != nil {
			w.metrics.RecordSinkFailure(w.Name())
		}
		return
	}
	w.writeAPI.WritePoint(point)
}

func validatedPoint(topic string, record map[string]any) *write.Point {
	sensorID := "unknown"
	if v, ok := record["sensor_id"].(string); ok && v != "" {
		sensorID = v
	}

	tags := map[string]string{
		"topic":     topic,
		"status":    "validated",
		"sensor_id": sensorID,
	}

	fields := make(map[string]any, len(record))
	for key, value := range record {
		if _, skip := nonFieldKeys[key]; skip || value == nil {
			continue
		}
		switch value.(type) {
		case string, float64, int, int64, bool:
			fields[key] = value
		}
	}

	// Zero time lets the server assign the write timestamp.
	return influxdb2.NewPoint(measurement, tags, fields, time.Time{})
}

func failedPoint(topic string, envelope map[string]any) (*write.Point, error) {
	errorType, errorColumn := sink.PrimaryFailure(envelope)

	tags := map[string]string{
		"topic":        topic,
		"status":       "failed",
		"sensor_id":    sink.SubjectTag(topic),
		"error_type":   errorType,
		"error_column": errorColumn,
	}

	report, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"full_error_report": string(report)}

	return influxdb2.NewPoint(measurement, tags, fields, time.Time{}), nil
}

// Name identifies the backend in logs and metrics.
func (w *Writer) Name() string { return "influx" }

// Close flushes buffered points and shuts the client down.
func (w *Writer) Close(ctx context.Context) error {
	w.writeAPI.Flush()
	w.client.Close()

	select {
	case <-w.drainDone:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Writer", "Close", "wait for error drain")
	}

	w.logger.Info("influx writer closed")
	return nil
}

var _ sink.Writer = (*Writer)(nil)

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/schemagate/errors"
)

// Limits on operator-supplied configuration input.
const (
	maxConfigSize  = 10 << 20 // 10MB
	maxJSONDepth   = 100
	maxEnvValueLen = 10000
)

// Loader reads the layered configuration: compiled defaults, then the
// config file (JSON or YAML by extension), then SCHEMAGATE_* environment
// overrides. A missing file is not an error; the service starts
// unconfigured and gets set up through the API, which creates the file
// on the first persisted edit.
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader creates a loader for the given config file path. An empty
// path skips the file layer entirely.
func NewLoader(path string) *Loader {
	return &Loader{path: path, envPrefix: "SCHEMAGATE"}
}

// Load produces a validated configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		data, err := readConfigFile(l.path)
		switch {
		case err == nil:
			if err := unmarshalConfig(l.path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", l.path, err)
			}
		case os.IsNotExist(err):
			// First boot.
		default:
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile reads the file with the guards any operator-supplied
// input gets: regular file only, bounded size.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", errors.ErrInvalidConfig, path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			errors.ErrInvalidConfig, path, info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}

// unmarshalConfig decodes file bytes over the defaults. YAML goes
// through a JSON bridge so every struct keeps a single set of wire tags.
func unmarshalConfig(path string, data []byte, cfg *Config) error {
	if isYAMLPath(path) {
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
		bridged, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		data = bridged
	}

	if err := validateJSONDepth(data); err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// applyEnvOverrides layers SCHEMAGATE_* variables over the file values.
// Port variables must parse as integers; the rest are taken verbatim.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, o := range []struct {
		suffix string
		dst    *string
	}{
		{"_BROKER_TRANSPORT", &cfg.Broker.Transport},
		{"_BROKER_HOST", &cfg.Broker.Host},
		{"_BROKER_USERNAME", &cfg.Broker.Username},
		{"_BROKER_PASSWORD", &cfg.Broker.Password},
		{"_SCHEMA_DIR", &cfg.SchemaDir},
		{"_INFLUXDB_URL", &cfg.Sinks.Influx.URL},
		{"_INFLUXDB_TOKEN", &cfg.Sinks.Influx.Token},
		{"_INFLUXDB_ORG", &cfg.Sinks.Influx.Org},
		{"_INFLUXDB_BUCKET", &cfg.Sinks.Influx.Bucket},
		{"_TIMESCALEDB_DSN", &cfg.Sinks.Timescale.DSN},
		{"_TIMESCALEDB_TABLE", &cfg.Sinks.Timescale.Table},
	} {
		val := os.Getenv(l.envPrefix + o.suffix)
		if val == "" {
			continue
		}
		if len(val) > maxEnvValueLen {
			return fmt.Errorf("%w: %s%s exceeds %d bytes",
				errors.ErrInvalidConfig, l.envPrefix, o.suffix, maxEnvValueLen)
		}
		*o.dst = val
	}

	for _, o := range []struct {
		suffix string
		dst    *int
	}{
		{"_BROKER_PORT", &cfg.Broker.Port},
		{"_API_PORT", &cfg.APIPort},
		{"_METRICS_PORT", &cfg.MetricsPort},
	} {
		val := os.Getenv(l.envPrefix + o.suffix)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a port number",
				errors.ErrInvalidConfig, l.envPrefix, o.suffix, val)
		}
		*o.dst = n
	}

	return nil
}

// validateJSONDepth bounds nesting before the decoder sees the document,
// so a pathological config cannot exhaust the stack.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if b == '\\' && inString {
			escaped = true
			continue
		}
		if b == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("%w: JSON nesting deeper than %d",
					errors.ErrInvalidConfig, maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
	return nil
}

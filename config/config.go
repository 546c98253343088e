package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/session"
	"github.com/c360/schemagate/sink/influx"
)

// Default server ports, overridable per file or environment.
const (
	DefaultAPIPort     = 8000
	DefaultMetricsPort = 9090
	DefaultSchemaDir   = "schemas"
)

// Config is the complete service configuration. The JSON keys for the
// broker block and the mapping lists are the wire format the admin UI
// has always spoken, so they stay even where the names read awkwardly.
type Config struct {
	Broker    BrokerConfig              `json:"mqtt_settings"`
	Sensors   []mapping.SensorMapping   `json:"topic_mappings"`
	Actuators []mapping.ActuatorMapping `json:"actuator_mappings,omitempty"`

	SchemaDir   string `json:"schema_dir,omitempty"`
	APIPort     int    `json:"api_port,omitempty"`
	MetricsPort int    `json:"metrics_port,omitempty"`

	Sinks SinksConfig `json:"sinks,omitempty"`
}

// BrokerConfig addresses the broker one session connects to. The host
// key is "broker" on the wire.
type BrokerConfig struct {
	Transport string                  `json:"transport,omitempty"`
	Host      string                  `json:"broker"`
	Port      int                     `json:"port"`
	Username  string                  `json:"username,omitempty"`
	Password  string                  `json:"password,omitempty"`
	TLS       tlsutil.ClientTLSConfig `json:"tls,omitempty"`
}

// SinksConfig selects the optional time-series backends. Both may be
// active at once; both may be empty.
type SinksConfig struct {
	Influx    influx.Config   `json:"influxdb,omitempty"`
	Timescale TimescaleConfig `json:"timescaledb,omitempty"`
}

// TimescaleConfig holds the PostgreSQL/TimescaleDB sink settings.
type TimescaleConfig struct {
	DSN   string `json:"dsn,omitempty"`
	Table string `json:"table,omitempty"`
}

// Enabled reports whether the TimescaleDB sink is configured.
func (c TimescaleConfig) Enabled() bool {
	return c.DSN != ""
}

// Default returns the configuration an unconfigured service runs with:
// no broker, no mappings, standard ports. The service starts fine on it
// and waits for configuration through the API.
func Default() *Config {
	return &Config{
		SchemaDir:   DefaultSchemaDir,
		APIPort:     DefaultAPIPort,
		MetricsPort: DefaultMetricsPort,
	}
}

// Validate normalizes defaults and checks everything the configuration
// boundary owns: broker addressing, per-mapping completeness, and topic
// exclusivity across both mapping classes. An empty config is valid.
func (c *Config) Validate() error {
	if c.SchemaDir == "" {
		c.SchemaDir = DefaultSchemaDir
	}
	if c.APIPort == 0 {
		c.APIPort = DefaultAPIPort
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = DefaultMetricsPort
	}

	switch c.Broker.Transport {
	case "", session.TransportMQTT, session.TransportNATS:
	default:
		return fmt.Errorf("%w: unknown transport %q", errors.ErrInvalidConfig, c.Broker.Transport)
	}

	if c.Broker.Host != "" {
		if c.Broker.Port == 0 {
			c.Broker.Port = defaultBrokerPort(c.Broker.Transport)
		}
		if c.Broker.Port < 1 || c.Broker.Port > 65535 {
			return fmt.Errorf("%w: broker port %d out of range", errors.ErrInvalidConfig, c.Broker.Port)
		}
	}

	for _, port := range []struct {
		name  string
		value int
	}{
		{"api_port", c.APIPort},
		{"metrics_port", c.MetricsPort},
	} {
		if port.value < 1 || port.value > 65535 {
			return fmt.Errorf("%w: %s %d out of range", errors.ErrInvalidConfig, port.name, port.value)
		}
	}

	sources := make(map[string]int, len(c.Sensors))
	for i := range c.Sensors {
		if err := c.Sensors[i].Validate(); err != nil {
			return fmt.Errorf("topic_mappings[%d]: %w", i, err)
		}
		if prev, dup := sources[c.Sensors[i].Source]; dup {
			return fmt.Errorf("%w: topic_mappings[%d] and [%d] share source %q",
				errors.ErrInvalidConfig, prev, i, c.Sensors[i].Source)
		}
		sources[c.Sensors[i].Source] = i
	}
	ids := make(map[string]int, len(c.Actuators))
	for i := range c.Actuators {
		if err := c.Actuators[i].Validate(); err != nil {
			return fmt.Errorf("actuator_mappings[%d]: %w", i, err)
		}
		if prev, dup := ids[c.Actuators[i].ActuatorID]; dup {
			return fmt.Errorf("%w: actuator_mappings[%d] and [%d] share actuator_id %q",
				errors.ErrInvalidConfig, prev, i, c.Actuators[i].ActuatorID)
		}
		ids[c.Actuators[i].ActuatorID] = i
	}

	// Topic exclusivity across both classes is the index's build rule;
	// running the build here surfaces conflicts at the config boundary
	// instead of at session start.
	if _, err := mapping.BuildIndex(c.Sensors, c.Actuators); err != nil {
		return err
	}

	if c.Sinks.Influx.URL != "" && !c.Sinks.Influx.Enabled() {
		return fmt.Errorf("%w: influxdb sink needs url, token, org and bucket", errors.ErrInvalidConfig)
	}

	return nil
}

func defaultBrokerPort(transport string) int {
	if transport == session.TransportNATS {
		return 4222
	}
	return 1883
}

// Clone returns a deep copy, so callers can mutate freely without
// touching the live configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SessionSettings translates the configuration into the snapshot the
// session manager consumes. Slices are copied; a running session never
// aliases live configuration.
func (c *Config) SessionSettings() session.Settings {
	return session.Settings{
		Broker: session.BrokerSettings{
			Transport: c.Broker.Transport,
			Host:      c.Broker.Host,
			Port:      c.Broker.Port,
			Username:  c.Broker.Username,
			Password:  c.Broker.Password,
			TLS:       c.Broker.TLS,
		},
		Sensors:   append([]mapping.SensorMapping(nil), c.Sensors...),
		Actuators: append([]mapping.ActuatorMapping(nil), c.Actuators...),
	}
}

// SchemaPath resolves a schema filename to its path under the schema
// directory, in the forward-slash form mappings store.
func (c *Config) SchemaPath(filename string) string {
	return filepath.ToSlash(filepath.Join(c.SchemaDir, filename))
}

// ClearSchemaReferences blanks every mapping reference to the given
// schema path and reports how many it cleared. Used when a schema file
// is deleted; the affected flows fall back to their class policy.
func (c *Config) ClearSchemaReferences(path string) int {
	cleared := 0
	for i := range c.Sensors {
		if c.Sensors[i].Schema == path {
			c.Sensors[i].Schema = ""
			cleared++
		}
	}
	for i := range c.Actuators {
		if c.Actuators[i].CommandSchema == path {
			c.Actuators[i].CommandSchema = ""
			cleared++
		}
		if c.Actuators[i].StatusSchema == path {
			c.Actuators[i].StatusSchema = ""
			cleared++
		}
	}
	return cleared
}

// String renders the configuration as indented JSON with credentials
// masked, for logs and debugging.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.Broker.Password != "" {
		clone.Broker.Password = "***"
	}
	if clone.Sinks.Influx.Token != "" {
		clone.Sinks.Influx.Token = "***"
	}
	if clone.Sinks.Timescale.DSN != "" {
		clone.Sinks.Timescale.DSN = "***"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

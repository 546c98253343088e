// Package config provides configuration management for the validation
// router: typed settings, layered loading, and file-backed persistence
// of API edits.
//
// # Core Components
//
// Config: the complete service configuration. The broker block and the
// two mapping lists keep the JSON keys the admin UI has always posted
// (mqtt_settings, topic_mappings, actuator_mappings), so existing
// deployments and their config files keep working unchanged.
//
// Loader: layered loading with last-wins semantics: compiled defaults,
// then the config file (JSON, or YAML by extension), then SCHEMAGATE_*
// environment overrides. A missing file is not an error; the service
// starts unconfigured and is set up through the HTTP API.
//
// Store: thread-safe holder of the live configuration. Reads return
// deep copies; updates run against a copy, are validated, persisted
// atomically (temp file + rename), and only then swapped in.
//
// # Basic Usage
//
//	cfg, err := config.NewLoader("config.json").Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := config.NewStore("config.json", cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// The session manager pulls a fresh snapshot at every start.
//	manager, err := session.NewManager(store.SessionSettings, registry)
//
//	// API edits are read-modify-write under the store's lock.
//	_, err = store.Update(func(c *config.Config) error {
//	    c.Broker.Host = "broker.local"
//	    c.Broker.Port = 1883
//	    return nil
//	})
//
// # Environment Variable Overrides
//
//	export SCHEMAGATE_BROKER_HOST="broker.local"
//	export SCHEMAGATE_BROKER_PORT="1883"
//	export SCHEMAGATE_INFLUXDB_URL="http://influx:8086"
//
// # Validation
//
// Validate normalizes defaults (ports, schema directory) and enforces
// the configuration-boundary invariants: complete mappings, ports in
// range, unique sensor sources and actuator ids, and topic exclusivity
// across the sensor and actuator classes. An empty configuration is
// valid.
//
// # Security
//
// Operator-supplied input is bounded: config files are capped at 10MB
// and 100 levels of JSON nesting, only regular files are read, and
// environment override values are length-checked.
package config

// Package schemagate documents the schema validation gateway.
//
// schemagate sits between an IoT broker (MQTT or NATS core) and the
// consumers of its telemetry. Devices publish JSON payloads on raw
// topics; schemagate validates every payload against an
// operator-authored schema and republishes it on a validated or failed
// topic. Consumers subscribe to the validated stream and never see
// malformed data; the failed stream carries a structured error envelope
// for dashboards and alerting.
//
// # Message Flow
//
//	┌─────────┐  sensors/climate/attic   ┌────────────┐
//	│ Devices │ ────────────────────────→│            │
//	└─────────┘                          │            │  validated/climate/attic
//	                                     │ schemagate │ ───────────────────────→ consumers
//	┌─────────┐  actuators/lamp/command  │            │  failed/climate/attic
//	│   UIs   │ ────────────────────────→│            │ ───────────────────────→ alerting
//	└─────────┘                          └────────────┘
//
// Two mapping classes drive the routing table:
//
//   - Sensor mappings: one source topic, a validated and a failed
//     destination, and an optional schema. Without a schema the payload
//     passes through to the validated topic after a JSON parse check.
//   - Actuator mappings: a command and a status topic pair, each with
//     its own destinations and optional schema. A missing or broken
//     command schema fails closed: commands land on the failed topic
//     until the schema is fixed.
//
// Schemas are JSON documents naming columns, dtypes, and checks
// (between, isin, str_matches, ...). A payload that parses but violates
// its schema is republished on the failed topic wrapped in an error
// envelope recording every failed check. See the schema package for the
// document format and testdata/schemas/ for examples.
//
// # Configuration
//
// Configuration layers file, environment, and API writes. The file
// (JSON or YAML) holds broker settings, both mapping lists, and the
// optional time-series sinks; SCHEMAGATE_* environment variables
// override single fields. At runtime the management API on :8000
// mutates the same file: every successful change persists atomically,
// restarts the broker session so the new routing table takes effect,
// and notifies websocket subscribers on /ws/config-updates.
//
// # Observability
//
// Prometheus metrics are served on :9090/metrics: per-topic validated
// and failed counters, broker connection status, and session state.
// GET /health on the API port reports the session lifecycle phase and
// broker health. Validated and failed outcomes can additionally be
// recorded to InfluxDB and TimescaleDB through the sink package.
//
// # Packages
//
//   - cmd/schemagate: service entry point
//   - api: management HTTP surface and websocket change feed
//   - config: layered loading, validation, and the persistent store
//   - errors: classified error taxonomy shared by every package
//   - mapping: sensor and actuator routing tables
//   - metric: Prometheus registry and exposition server
//   - router: the per-message validate-and-republish path
//   - schema: schema documents, the check library, compiler, and cache
//   - session: broker session lifecycle (start, stop, restart)
//   - sink: fire-and-forget time-series writers (InfluxDB, TimescaleDB)
//   - transport: broker abstraction with MQTT, NATS, and loopback
//     implementations
//   - pkg/retry: backoff for the broker connect and sink startup probes
//   - pkg/tlsutil: TLS configuration shared by the broker clients
package schemagate

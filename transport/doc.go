// Package transport abstracts the pub/sub broker behind a small Client
// interface: connect, subscribe, publish with an optional retained flag,
// and close. The router requires at-least-once delivery of subscribed
// messages and nothing stronger; ordering is whatever the broker gives,
// typically per-connection FIFO per topic.
//
// Two adapters implement Client: transport/mqtt (Eclipse Paho, the
// deployment default) and transport/nats (NATS core). Both carry the same
// circuit-breaker and health-monitoring behavior, so the session layer is
// broker-agnostic. Loopback is the in-process implementation used by unit
// tests.
package transport

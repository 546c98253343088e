package transport

import (
	"context"
)

// ConnectionStatus represents the state of the broker connection.
type ConnectionStatus int

// Connection states, from cold to circuit-open.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String renders the status for logs and the management API.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// MessageHandler receives one inbound message. The topic is the concrete
// topic the message arrived on, which may be narrower than the
// subscription pattern. Handlers run on the adapter's receive goroutine
// and must not block for long.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// StatusHandler is notified when connection health flips.
type StatusHandler func(healthy bool)

// Client is the broker-facing surface the router and session need:
// at-least-once pub/sub with explicit lifecycle. Implementations exist for
// MQTT and NATS core; tests use the in-process Loopback.
type Client interface {
	// Connect establishes the broker connection, honoring ctx for
	// cancellation. Safe to call once per client.
	Connect(ctx context.Context) error

	// Subscribe registers a handler for a topic. Subscriptions live until
	// Close; there is no per-topic unsubscribe because a session is torn
	// down whole.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Publish sends payload to topic. The retained flag is honored where
	// the broker supports retained messages and ignored otherwise.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error

	// Close tears down subscriptions and the connection. Idempotent.
	Close(ctx context.Context) error

	// Status reports the current connection state.
	Status() ConnectionStatus

	// IsHealthy is true while the connection is established.
	IsHealthy() bool
}

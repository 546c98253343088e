package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
)

// ClientOption configures the NATS client
type ClientOption func(*Client) error

// WithName sets the connection name visible in server monitoring
func WithName(name string) ClientOption {
	return func(c *Client) error {
		if name == "" {
			return fmt.Errorf("connection name cannot be empty")
		}
		c.clientName = name
		return nil
	}
}

// WithCredentials sets username/password authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithMaxReconnects sets the reconnect attempt limit. Negative means
// retry forever, zero disables automatic reconnects.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts
func WithReconnectWait(wait time.Duration) ClientOption {
	return func(c *Client) error {
		if wait <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", wait)
		}
		c.reconnectWait = wait
		return nil
	}
}

// WithPingInterval sets the server ping interval
func WithPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive, got %v", interval)
		}
		c.pingInterval = interval
		return nil
	}
}

// WithTimeout bounds the initial connect handshake.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithDrainTimeout bounds the drain window during Close
func WithDrainTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", timeout)
		}
		c.drainTimeout = timeout
		return nil
	}
}

// WithHandlerTimeout bounds per-message handler execution
func WithHandlerTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("handler timeout must be positive, got %v", timeout)
		}
		c.handlerTimeout = timeout
		return nil
	}
}

// WithTLS enables TLS with the given configuration
func WithTLS(cfg tlsutil.ClientTLSConfig) ClientOption {
	return func(c *Client) error {
		c.tls = cfg
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger.With("component", "nats-client")
		return nil
	}
}

// WithHealthInterval sets the health check interval. Zero disables
// the monitoring goroutine, which keeps unit tests quiet.
func WithHealthInterval(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval < 0 {
			return fmt.Errorf("health interval cannot be negative, got %v", interval)
		}
		c.healthInterval = interval
		return nil
	}
}

// WithCircuitBreakerThreshold sets the failure count that opens the circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return fmt.Errorf("circuit breaker threshold must be at least 1, got %d", threshold)
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff duration
func WithMaxBackoff(max time.Duration) ClientOption {
	return func(c *Client) error {
		if max < time.Second {
			return fmt.Errorf("max backoff must be at least 1s, got %v", max)
		}
		c.maxBackoff = max
		return nil
	}
}

// WithConnectionLostCallback registers a callback for lost connections
func WithConnectionLostCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onConnectionLost = fn
		return nil
	}
}

// WithHealthChangeCallback registers a callback for health transitions
func WithHealthChangeCallback(fn transport.StatusHandler) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
)

// ClientOption configures the MQTT client
type ClientOption func(*Client) error

// WithClientID sets the MQTT client identifier
func WithClientID(id string) ClientOption {
	return func(c *Client) error {
		if id == "" {
			return fmt.Errorf("client ID cannot be empty")
		}
		c.clientID = id
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

// WithQoS sets the quality of service level for subscribe and publish
func WithQoS(qos byte) ClientOption {
	return func(c *Client) error {
		if qos > 2 {
			return fmt.Errorf("QoS must be 0, 1, or 2, got %d", qos)
		}
		c.qos = qos
		return nil
	}
}

// WithKeepAlive sets the keepalive interval
func WithKeepAlive(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval < time.Second {
			return fmt.Errorf("keepalive must be at least 1s, got %v", interval)
		}
		c.keepAlive = interval
		return nil
	}
}

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithOperationTimeout bounds how long subscribe, publish and
// unsubscribe wait for broker acknowledgement.
func WithOperationTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("operation timeout must be positive, got %v", timeout)
		}
		c.opTimeout = timeout
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

// WithMaxReconnectInterval caps paho's automatic reconnect backoff
func WithMaxReconnectInterval(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("max reconnect interval must be positive, got %v", interval)
		}
		c.maxReconnectInterval = interval
		return nil
	}
}

// WithCleanSession controls whether the broker discards session state
// between connections. Durable subscriptions need this off.
func WithCleanSession(clean bool) ClientOption {
	return func(c *Client) error {
		c.cleanSession = clean
		return nil
	}
}

// WithDrainTimeout sets the disconnect quiesce window for in-flight messages
func WithDrainTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("drain timeout cannot be negative, got %v", timeout)
		}
		c.drainTimeout = timeout
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
		c.logger = logger.With("component", "mqtt-client")
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

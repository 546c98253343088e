// Package mqtt adapts the Eclipse Paho client to the transport interface
// with circuit breaker and health monitoring.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
)

// Status holds runtime status information for the MQTT client
type Status struct {
	Status          transport.ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
}

// Client manages an MQTT connection with circuit breaker pattern
type Client struct {
	broker string
	port   int

	status   atomic.Value // stores transport.ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn   paho.Client
	topics []string

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	clientID             string
	username             string
	password             string // cleared on close
	qos                  byte
	cleanSession         bool
	keepAlive            time.Duration
	connectTimeout       time.Duration
	opTimeout            time.Duration
	handlerTimeout       time.Duration
	maxReconnectInterval time.Duration
	drainTimeout         time.Duration
	tls                  tlsutil.ClientTLSConfig

	// Callbacks
	onConnectionLost func(error)
	onHealthChange   transport.StatusHandler

	// Health monitoring
	healthTicker   *time.Ticker
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates an MQTT client for broker:port with optional
// configuration. The connection is not established until Connect.
func NewClient(broker string, port int, opts ...ClientOption) (*Client, error) {
	c := &Client{
		broker: broker,
		port:   port,
		logger: slog.Default().With("component", "mqtt-client"),
		// Sensible defaults
		clientID:             "schemagate-" + uuid.NewString()[:8],
		qos:                  1, // at-least-once
		cleanSession:         true,
		keepAlive:            30 * time.Second,
		connectTimeout:       5 * time.Second,
		opTimeout:            5 * time.Second,
		handlerTimeout:       30 * time.Second,
		maxReconnectInterval: time.Minute,
		drainTimeout:         time.Second,
		healthInterval:       10 * time.Second,
		circuitThreshold:     5,
		maxBackoff:           time.Minute,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(transport.StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("created mqtt client", "broker", broker, "port", port, "client_id", c.clientID)

	return c, nil
}

// BrokerURL returns the server URI the client connects to.
func (m *Client) BrokerURL() string {
	scheme := "tcp"
	if m.tls.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.broker, m.port)
}

// Status reports the connection state, including circuit-open.
func (m *Client) Status() transport.ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return transport.StatusDisconnected
	}
	return val.(transport.ConnectionStatus)
}

func (m *Client) setStatus(status transport.ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is established
func (m *Client) IsHealthy() bool {
	return m.Status() == transport.StatusConnected
}

// Failures returns how many connection failures have accumulated
// since the last successful connect.
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current circuit backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// GetStatus snapshots the connection state and failure counters.
func (m *Client) GetStatus() *Status {
	return &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
}

// recordFailure records a connection failure and manages the circuit breaker
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)
	m.logger.Debug("recorded failure", "total", total, "circuit_failures", circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentStatus := m.Status()
	if currentStatus != transport.StatusCircuitOpen {
		// Only one goroutine wins the transition
		if m.status.CompareAndSwap(currentStatus, transport.StatusCircuitOpen) {
			currentBackoff := m.backoff.Load().(time.Duration)
			m.backoff.Store(nextBackoff(currentBackoff, m.maxBackoff))
			m.circuitFailures.Store(0)

			m.logger.Warn("circuit breaker opened",
				"failures", circuitFailures,
				"backoff", currentBackoff)

			time.AfterFunc(currentBackoff, m.testCircuit)
		}
		return
	}

	// Circuit already open; consecutive failures stretch the backoff.
	newBackoff := nextBackoff(m.backoff.Load().(time.Duration), m.maxBackoff)
	m.backoff.Store(newBackoff)
	m.circuitFailures.Store(0)
	m.logger.Warn("circuit breaker still open", "backoff", newBackoff)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// resetCircuit clears the failure counters after a good connect.
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == transport.StatusCircuitOpen {
		m.setStatus(transport.StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may try again
func (m *Client) testCircuit() {
	if m.Status() == transport.StatusCircuitOpen {
		m.logger.Debug("circuit breaker test, allowing reconnect attempts")
		m.setStatus(transport.StatusDisconnected)
	}
}

// Connect establishes the connection to the MQTT broker
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == transport.StatusCircuitOpen {
		m.logger.Debug("circuit breaker is open, skipping connection attempt")
		return errors.ErrCircuitOpen
	}

	m.setStatus(transport.StatusConnecting)
	m.logger.Info("connecting to mqtt broker", "url", m.BrokerURL(), "client_id", m.clientID)

	opts, err := m.buildConnectionOptions()
	if err != nil {
		m.setStatus(transport.StatusDisconnected)
		return err
	}

	conn := paho.NewClient(opts)
	token := conn.Connect()

	connectDone := make(chan struct{})
	go func() {
		token.Wait()
		close(connectDone)
	}()

	select {
	case <-connectDone:
		if err := token.Error(); err != nil {
			m.recordFailure()
			if m.Status() != transport.StatusCircuitOpen {
				m.setStatus(transport.StatusDisconnected)
			}
			if m.Status() == transport.StatusCircuitOpen {
				return errors.ErrCircuitOpen
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != transport.StatusCircuitOpen {
			m.setStatus(transport.StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.setStatus(transport.StatusConnected)
	m.resetCircuit()

	m.logger.Info("connected to mqtt broker", "url", m.BrokerURL())

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	if m.onHealthChange != nil {
		m.onHealthChange(true)
	}

	return nil
}

// buildConnectionOptions builds paho options from client configuration
func (m *Client) buildConnectionOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(m.BrokerURL()).
		SetClientID(m.clientID).
		SetKeepAlive(m.keepAlive).
		SetConnectTimeout(m.connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(m.maxReconnectInterval).
		SetCleanSession(m.cleanSession).
		SetOrderMatters(true).
		SetOnConnectHandler(m.handleConnect).
		SetConnectionLostHandler(m.handleConnectionLost).
		SetReconnectingHandler(m.handleReconnecting)

	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	if m.tls.Enabled {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(m.tls)
		if err != nil {
			return nil, errors.WrapFatal(err, "Client", "buildConnectionOptions", "load TLS config")
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// Subscribe subscribes to a topic. Each message handler receives a context
// derived from the subscribe context with a bounded processing timeout.
func (m *Client) Subscribe(ctx context.Context, topic string, handler transport.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return errors.ErrNoConnection
	}

	token := m.conn.Subscribe(topic, m.qos, func(_ paho.Client, msg paho.Message) {
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Topic(), msg.Payload())
	})

	if !token.WaitTimeout(m.opTimeout) {
		return fmt.Errorf("subscribe %q: %w", topic, errors.ErrConnectionTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe %s", topic))
	}

	m.topics = append(m.topics, topic)
	m.logger.Debug("subscribed", "topic", topic, "qos", m.qos)
	return nil
}

// Publish sends a payload to a topic with the client's QoS.
func (m *Client) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNoConnection
	}

	token := conn.Publish(topic, m.qos, retained, payload)
	if !token.WaitTimeout(m.opTimeout) {
		return fmt.Errorf("publish to %q: %w", topic, errors.ErrConnectionTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", topic))
	}
	return nil
}

// Close unsubscribes everything and disconnects. Idempotent.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	if m.conn != nil {
		if len(m.topics) > 0 && m.conn.IsConnected() {
			token := m.conn.Unsubscribe(m.topics...)
			if !token.WaitTimeout(m.opTimeout) {
				errs = append(errs, fmt.Errorf("unsubscribe: %w", errors.ErrConnectionTimeout))
			} else if err := token.Error(); err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
			}
		}
		m.topics = nil

		// Respect a tighter context deadline for the quiesce window.
		quiesce := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < quiesce {
				quiesce = remaining
			}
		}
		m.conn.Disconnect(uint(quiesce.Milliseconds()))
		m.conn = nil
	}

	// Clear sensitive credentials from memory
	m.username = ""
	m.password = ""

	m.setStatus(transport.StatusDisconnected)

	if len(errs) > 0 {
		errMsg := "cleanup errors:"
		for i, err := range errs {
			errMsg += fmt.Sprintf("\n  [%d] %v", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

// WaitForConnection blocks until the connection is healthy or ctx expires.
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// Event handlers for the paho connection

func (m *Client) handleConnect(_ paho.Client) {
	m.setStatus(transport.StatusConnected)
	m.resetCircuit()

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleConnectionLost(_ paho.Client, err error) {
	m.setStatus(transport.StatusReconnecting)
	m.logger.Warn("mqtt connection lost", "error", err)

	m.mu.RLock()
	onConnectionLost := m.onConnectionLost
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onConnectionLost != nil {
		go onConnectionLost(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	m.setStatus(transport.StatusReconnecting)
	m.logger.Debug("mqtt reconnecting")
}

// startHealthMonitoring starts periodic connection checks
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	m.healthTicker = time.NewTicker(m.healthInterval)
	m.healthDone = make(chan struct{})
	ticker := m.healthTicker
	done := m.healthDone
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.RLock()
				conn := m.conn
				onHealthChange := m.onHealthChange
				m.mu.RUnlock()

				if conn == nil {
					continue
				}

				healthy := conn.IsConnectionOpen()
				if healthy && m.Status() != transport.StatusConnected {
					m.setStatus(transport.StatusConnected)
				} else if !healthy && m.Status() == transport.StatusConnected {
					m.setStatus(transport.StatusReconnecting)
				}

				if healthy != lastHealthy && onHealthChange != nil {
					onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

// stopHealthMonitoring stops the health monitoring goroutine
func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthTicker != nil {
		m.healthTicker.Stop()
		m.healthTicker = nil
	}
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

var _ transport.Client = (*Client)(nil)

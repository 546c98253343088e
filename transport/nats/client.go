// Package nats adapts the NATS core client to the transport interface
// for platform-internal deployments.
//
// Mapping tables address destinations as slash-separated topic paths.
// This adapter translates those paths to NATS subjects on the way out
// ("sensors/temp1" becomes "sensors.temp1", "+" becomes "*", "#" becomes
// ">") and back again on delivery, so the router never sees subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
)

// Status holds runtime status information for the NATS client
type Status struct {
	Status          transport.ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client manages a NATS connection with circuit breaker pattern
type Client struct {
	url string

	status   atomic.Value // stores transport.ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	clientName     string
	username       string
	password       string // cleared on close
	token          string // cleared on close
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	handlerTimeout time.Duration
	tls            tlsutil.ClientTLSConfig

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

// NewClient creates a NATS client for the given server URL with optional
// configuration. The connection is not established until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("server URL is required"), "Client", "NewClient", "validate URL")
	}

	c := &Client{
		url:    url,
		logger: slog.Default().With("component", "nats-client"),
		// Sensible defaults
		clientName:       "schemagate",
		maxReconnects:    -1, // retry forever
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     time.Second,
		handlerTimeout:   30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(transport.StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("created nats client", "url", url, "name", c.clientName)

	return c, nil
}

// toSubject converts a slash-separated topic path to a NATS subject
func toSubject(topic string) string {
	subject := strings.Trim(topic, "/")
	subject = strings.ReplaceAll(subject, "/", ".")
	subject = strings.ReplaceAll(subject, "+", "*")
	subject = strings.ReplaceAll(subject, "#", ">")
	return subject
}

// toTopic converts a delivered NATS subject back to a topic path
func toTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// URL returns the server URL the client connects to.
func (m *Client) URL() string {
	return m.url
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

// GetStatus snapshots the connection state, failure counters, and the
// measured round-trip time when connected.
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
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

// buildConnectionOptions maps the client configuration onto nats.go
// options, including event handlers and TLS.
func (m *Client) buildConnectionOptions() ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(m.clientName),
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.tls.Enabled {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(m.tls)
		if err != nil {
			return nil, errors.WrapFatal(err, "Client", "buildConnectionOptions", "load TLS config")
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	return opts, nil
}

// Connect establishes the connection to the NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == transport.StatusCircuitOpen {
		m.logger.Debug("circuit breaker is open, skipping connection attempt")
		return errors.ErrCircuitOpen
	}

	m.setStatus(transport.StatusConnecting)
	m.logger.Info("connecting to nats server", "url", m.url)

	opts, err := m.buildConnectionOptions()
	if err != nil {
		m.setStatus(transport.StatusDisconnected)
		return err
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
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

	m.setStatus(transport.StatusConnected)
	m.resetCircuit()

	m.logger.Info("connected to nats server", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	if m.onHealthChange != nil {
		m.onHealthChange(true)
	}

	return nil
}

// Subscribe subscribes to a topic path. Each message handler receives a
// context derived from the subscribe context with a bounded processing
// timeout, and the delivered subject translated back to a topic path.
func (m *Client) Subscribe(ctx context.Context, topic string, handler transport.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return errors.ErrNoConnection
	}

	subject := toSubject(topic)
	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		handler(msgCtx, toTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe %s", subject))
	}

	m.subs = append(m.subs, sub)
	m.logger.Debug("subscribed", "topic", topic, "subject", subject)
	return nil
}

// Publish sends a payload to a topic path. NATS core has no retained
// message concept, so the flag is ignored.
func (m *Client) Publish(_ context.Context, topic string, payload []byte, _ bool) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNoConnection
	}

	subject := toSubject(topic)
	if err := conn.Publish(subject, payload); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Close drains subscriptions and closes the connection. Idempotent.
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

	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
			m.logger.Error("failed to unsubscribe", "error", err)
		}
	}
	m.subs = nil

	if m.conn != nil {
		// Respect a tighter context deadline for the drain window.
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- m.conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
				m.logger.Error("drain error", "error", err)
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain timeout"))
			m.logger.Error("drain timeout, force closing", "timeout", drainTimeout)
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
			m.logger.Error("context cancelled during drain, force closing")
		}

		m.conn.Close()
		m.conn = nil
	}

	// Clear sensitive credentials from memory
	m.username = ""
	m.password = ""
	m.token = ""

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

// Event handlers for the NATS connection

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(transport.StatusReconnecting)
	m.logger.Warn("nats connection lost", "error", err)

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

func (m *Client) handleReconnect(conn *nats.Conn) {
	m.setStatus(transport.StatusConnected)
	m.resetCircuit()
	m.logger.Info("nats reconnected", "url", conn.ConnectedUrl())

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	if !m.closed.Load() {
		// Connection closed without our Close call, e.g. reconnect
		// attempts exhausted.
		m.setStatus(transport.StatusDisconnected)
		m.logger.Warn("nats connection closed")
	}
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		m.logger.Error("nats subscription error", "subject", sub.Subject, "error", err)
		return
	}
	m.logger.Error("nats error", "error", err)
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

				healthy := conn.IsConnected()
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

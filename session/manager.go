package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/pkg/retry"
	"github.com/c360/schemagate/router"
	"github.com/c360/schemagate/schema"
	"github.com/c360/schemagate/sink"
	"github.com/c360/schemagate/transport"
)

// State is the lifecycle phase of the manager's current session.
type State int32

// Lifecycle states. The numeric values feed the session status gauge.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Settings is the configuration snapshot one session is built from. The
// manager pulls a fresh snapshot from its source at every start, so
// configuration edits take effect on the next restart.
type Settings struct {
	Broker    BrokerSettings
	Sensors   []mapping.SensorMapping
	Actuators []mapping.ActuatorMapping
}

// SettingsSource supplies the current configuration snapshot.
type SettingsSource func() Settings

// ClientFactory builds the transport client for one session. Tests
// inject an in-process loopback here.
type ClientFactory func(settings BrokerSettings) (transport.Client, error)

// Manager owns the session lifecycle. At most one session is active at a
// time, and configuration changes are applied with a full stop/start
// cycle, never by mutating a live session.
type Manager struct {
	source  SettingsSource
	factory ClientFactory

	timeseries    sink.Writer
	core          *metric.Metrics
	routerMetrics *router.Metrics
	logger        *slog.Logger

	stopTimeout  time.Duration
	settleDelay  time.Duration
	queueSize    int
	connectRetry retry.Config

	mu         sync.Mutex // serializes Start, Stop, Restart
	state      atomic.Int32
	session    atomic.Pointer[Session]
	generation atomic.Uint64
}

// NewManager builds a Manager that pulls configuration from source. A
// nil registry disables metric export; the session gauges then write to
// detached collectors and the per-message counters are skipped.
func NewManager(source SettingsSource, registry *metric.MetricsRegistry, opts ...ManagerOption) (*Manager, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SessionManager", "NewManager",
			"settings source required")
	}

	m := &Manager{
		source:       source,
		timeseries:   sink.Nop{},
		logger:       slog.Default(),
		stopTimeout:  5 * time.Second,
		settleDelay:  time.Second,
		queueSize:    128,
		connectRetry: retry.Quick(),
	}

	if registry != nil {
		m.core = registry.CoreMetrics()
	} else {
		m.core = metric.NewMetrics()
	}

	routerMetrics, err := router.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	m.routerMetrics = routerMetrics

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "session-manager")

	if m.factory == nil {
		core, logger := m.core, m.logger
		m.factory = func(settings BrokerSettings) (transport.Client, error) {
			return newBrokerClient(settings, core, logger)
		}
	}

	return m, nil
}

// State reports the current lifecycle phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Generation reports how many sessions have been created so far.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.core.RecordSessionStatus(int(s))
}

// Start builds a session from the current configuration snapshot and
// brings it up. When no broker or no mappings are configured the manager
// stays stopped and returns nil; the service is expected to run empty
// until it is configured through the API.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.State() != StateStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "SessionManager", "Start",
			"session already active")
	}

	settings := m.source()
	if !settings.Broker.Configured() {
		m.logger.Info("broker not configured, session stays stopped")
		return nil
	}
	if len(settings.Sensors) == 0 && len(settings.Actuators) == 0 {
		m.logger.Info("no topic mappings configured, session stays stopped")
		return nil
	}

	m.setState(StateStarting)

	index, err := mapping.BuildIndex(settings.Sensors, settings.Actuators)
	if err != nil {
		m.setState(StateStopped)
		return errors.WrapInvalid(err, "SessionManager", "Start", "build topic index")
	}

	cache := schema.NewCache(m.logger)
	loaded, failed := cache.Populate(index.SchemaPaths())
	m.core.RecordSchemaCache(loaded, failed)
	logFailClosedFlows(m.logger, settings.Actuators, cache)

	client, err := m.factory(settings.Broker)
	if err != nil {
		m.setState(StateStopped)
		return errors.WrapInvalid(err, "SessionManager", "Start", "build transport client")
	}

	generation := m.generation.Add(1)
	sess, err := newSession(generation, client, index, cache, m.timeseries, m.routerMetrics,
		m.queueSize, m.connectRetry, m.logger)
	if err != nil {
		m.setState(StateStopped)
		return err
	}

	if err := sess.open(ctx); err != nil {
		m.setState(StateStopped)
		return err
	}

	m.session.Store(sess)
	m.setState(StateRunning)
	m.observeBroker(client)
	m.logger.Info("session started",
		"session_id", sess.id,
		"generation", generation,
		"broker", settings.Broker.Host,
		"transport", settings.Broker.TransportName(),
		"topics", index.Len(),
		"schemas_loaded", loaded,
		"schemas_failed", failed)
	return nil
}

// Stop tears down the active session. It is idempotent, and a worker
// that overruns the stop window is logged and left behind rather than
// blocking the manager.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	sess := m.session.Swap(nil)
	if sess == nil {
		m.setState(StateStopped)
		return nil
	}

	m.setState(StateStopping)
	if err := sess.shutdown(ctx, m.stopTimeout); err != nil {
		m.logger.Warn("session did not stop cleanly", "session_id", sess.id, "error", err)
	} else {
		m.logger.Info("session stopped", "session_id", sess.id)
	}

	m.setState(StateStopped)
	m.observeBroker(nil)
	return nil
}

// Restart applies the current configuration snapshot: stop, settle,
// start. The settling delay gives the broker time to retire the old
// session's subscriptions before the new session subscribes, so a
// message published once is delivered at most once.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("restarting session")
	if err := m.stopLocked(ctx); err != nil {
		return err
	}

	if m.settleDelay > 0 {
		select {
		case <-time.After(m.settleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.core.RecordSessionRestart()
	return m.startLocked(ctx)
}

// Info is a point-in-time snapshot of the manager for health reporting.
type Info struct {
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
	SessionID  string `json:"session_id,omitempty"`
	Broker     string `json:"broker_status,omitempty"`
	Topics     int    `json:"topics,omitempty"`
}

// Health reports the manager's state and, while a session is active, its
// broker connection status. The observed broker state is also written to
// the platform gauges so scrapes stay current between lifecycle events.
func (m *Manager) Health() Info {
	info := Info{
		State:      m.State().String(),
		Generation: m.generation.Load(),
	}

	sess := m.session.Load()
	if sess == nil {
		return info
	}

	info.SessionID = sess.id
	info.Broker = sess.client.Status().String()
	info.Topics = sess.index.Len()
	m.observeBroker(sess.client)
	return info
}

// observeBroker records the broker gauges from the client's current
// state. A nil client reads as disconnected.
func (m *Manager) observeBroker(client transport.Client) {
	if client == nil {
		m.core.RecordBrokerStatus(false)
		m.core.RecordCircuitBreakerState(false)
		return
	}
	m.core.RecordBrokerStatus(client.IsHealthy())
	m.core.RecordCircuitBreakerState(client.Status() == transport.StatusCircuitOpen)
}

// logFailClosedFlows reports, once per session start, every actuator
// flow that will drop traffic because its schema is undeclared or failed
// to load. Per-message drops are logged at debug only, so this is the
// operator's signal that an actuator is misconfigured.
func logFailClosedFlows(logger *slog.Logger, actuators []mapping.ActuatorMapping, cache *schema.Cache) {
	for i := range actuators {
		a := &actuators[i]
		report := func(flow, path string) {
			if path == "" {
				logger.Error("actuator flow has no schema, its messages will be dropped",
					"actuator", a.ActuatorID, "flow", flow)
				return
			}
			if _, ok := cache.Lookup(path); !ok {
				logger.Error("actuator schema unavailable, its messages will be dropped",
					"actuator", a.ActuatorID, "flow", flow, "schema", path)
			}
		}
		report("command", a.CommandSchema)
		report("status", a.StatusSchema)
	}
}

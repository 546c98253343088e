package session

import (
	"log/slog"
	"time"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/pkg/retry"
	"github.com/c360/schemagate/sink"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithTimeSeries sets the time-series writer sessions record into.
func WithTimeSeries(w sink.Writer) ManagerOption {
	return func(m *Manager) error {
		if w == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithTimeSeries",
				"writer cannot be nil")
		}
		m.timeseries = w
		return nil
	}
}

// WithClientFactory overrides how sessions build their transport client.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) error {
		if f == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithClientFactory",
				"factory cannot be nil")
		}
		m.factory = f
		return nil
	}
}

// WithLogger sets the logger for the manager and its sessions.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		if logger == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithLogger",
				"logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithStopTimeout bounds how long Stop waits for the worker to finish
// its in-flight message before proceeding.
func WithStopTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithStopTimeout",
				"timeout must be positive")
		}
		m.stopTimeout = d
		return nil
	}
}

// WithSettleDelay sets the pause between stop and start during Restart.
// Zero disables settling; tests use that to keep restarts fast.
func WithSettleDelay(d time.Duration) ManagerOption {
	return func(m *Manager) error {
		if d < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithSettleDelay",
				"delay cannot be negative")
		}
		m.settleDelay = d
		return nil
	}
}

// WithQueueSize sets the inbound message buffer per session. Deliveries
// beyond the buffer block the transport's receive path until the worker
// catches up.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) error {
		if n < 1 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithQueueSize",
				"queue size must be at least 1")
		}
		m.queueSize = n
		return nil
	}
}

// WithConnectRetry sets the backoff schedule for the broker connect at
// session start. The default retries for a few seconds; tests use a
// single attempt to fail fast.
func WithConnectRetry(cfg retry.Config) ManagerOption {
	return func(m *Manager) error {
		if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "SessionManager", "WithConnectRetry",
				"delays and multiplier cannot be negative")
		}
		m.connectRetry = cfg
		return nil
	}
}

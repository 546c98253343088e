package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/schemagate/config"
	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/session"
)

const (
	// maxBodySize bounds every request body the API accepts.
	maxBodySize = 1 << 20 // 1MB

	defaultRestartTimeout = 30 * time.Second
)

// SessionController is the slice of the session manager the API drives:
// restart after a configuration change, snapshot for the health endpoint.
type SessionController interface {
	Restart(ctx context.Context) error
	Health() session.Info
}

var _ SessionController = (*session.Manager)(nil)

// Server is the HTTP configuration surface: broker settings, mapping
// tables, schema file management, health, and the websocket change feed.
// Every successful mutation persists through the config store, restarts
// the session so it takes effect, and broadcasts to connected clients.
type Server struct {
	store    *config.Store
	sessions SessionController
	notifier *Notifier
	logger   *slog.Logger

	port           int
	restartTimeout time.Duration

	mu     sync.Mutex // protects server field
	server *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger for the server and its notifier.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "WithLogger",
				"logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithPort overrides the listen port from the loaded configuration.
func WithPort(port int) Option {
	return func(s *Server) error {
		if port < 1 || port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "WithPort",
				"port out of range")
		}
		s.port = port
		return nil
	}
}

// WithRestartTimeout bounds the session restart a mutation triggers.
func WithRestartTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "WithRestartTimeout",
				"timeout must be positive")
		}
		s.restartTimeout = d
		return nil
	}
}

// NewServer creates the API server over the given store and session
// manager. The listen port defaults to the store's api_port.
func NewServer(store *config.Store, sessions SessionController, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "APIServer", "NewServer",
			"config store required")
	}
	if sessions == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "APIServer", "NewServer",
			"session controller required")
	}

	s := &Server{
		store:          store,
		sessions:       sessions,
		logger:         slog.Default(),
		port:           store.Get().APIPort,
		restartTimeout: defaultRestartTimeout,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "api-server")
	s.notifier = NewNotifier(s.logger)
	return s, nil
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mqtt-settings", s.handleBrokerSettings)
	mux.HandleFunc("/api/topic-mappings", s.handleSensorMappings)
	mux.HandleFunc("/api/actuator-mappings", s.handleActuatorMappings)
	mux.HandleFunc("/api/schemas", s.handleSchemas)
	mux.HandleFunc("/api/schemas/", s.handleSchemaFile)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws/config-updates", s.notifier)
	return mux
}

// Start runs the server. It blocks until Stop is called and returns nil
// on a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "APIServer", "Start",
			"server already running")
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("api server listening", "port", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "APIServer", "Start",
			fmt.Sprintf("listen on port %d", s.port))
	}
	return nil
}

// Stop disconnects websocket clients and shuts the listener down,
// waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	s.notifier.Close()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "APIServer", "Stop", "http shutdown")
	}
	return nil
}

func (s *Server) handleBrokerSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		noStore(w)
		writeJSON(w, http.StatusOK, s.store.Get().Broker)

	case http.MethodPost:
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		var settings config.BrokerConfig
		if err := json.Unmarshal(body, &settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid MQTT settings format")
			return
		}
		if settings.Host == "" {
			writeError(w, http.StatusBadRequest, "broker host is required")
			return
		}
		if _, err := s.store.Update(func(c *config.Config) error {
			c.Broker = settings
			return nil
		}); err != nil {
			s.writeUpdateError(w, err)
			return
		}
		s.applyChange(w, http.StatusOK, "MQTT settings updated successfully.")

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (s *Server) handleSensorMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		noStore(w)
		sensors := s.store.Get().Sensors
		if sensors == nil {
			sensors = []mapping.SensorMapping{}
		}
		writeJSON(w, http.StatusOK, sensors)

	case http.MethodPost:
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		var sensors []mapping.SensorMapping
		if err := json.Unmarshal(body, &sensors); err != nil {
			writeError(w, http.StatusBadRequest, "invalid topic mappings format")
			return
		}
		if _, err := s.store.Update(func(c *config.Config) error {
			c.Sensors = sensors
			return nil
		}); err != nil {
			s.writeUpdateError(w, err)
			return
		}
		s.applyChange(w, http.StatusOK, "Topic mappings updated successfully.")

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (s *Server) handleActuatorMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		noStore(w)
		actuators := s.store.Get().Actuators
		if actuators == nil {
			actuators = []mapping.ActuatorMapping{}
		}
		writeJSON(w, http.StatusOK, actuators)

	case http.MethodPost:
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		var actuators []mapping.ActuatorMapping
		if err := json.Unmarshal(body, &actuators); err != nil {
			writeError(w, http.StatusBadRequest, "invalid actuator mappings format")
			return
		}
		if _, err := s.store.Update(func(c *config.Config) error {
			c.Actuators = actuators
			return nil
		}); err != nil {
			s.writeUpdateError(w, err)
			return
		}
		s.applyChange(w, http.StatusOK, "Actuator mappings updated successfully.")

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

type healthResponse struct {
	Status  string       `json:"status"`
	Session session.Info `json:"session"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Session: s.sessions.Health(),
	})
}

// applyChange finishes a successful mutation: restart the session so the
// new configuration takes effect, tell websocket listeners, respond. A
// failed restart is logged rather than surfaced; the configuration is
// already persisted and the health endpoint shows the session state.
func (s *Server) applyChange(w http.ResponseWriter, status int, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.restartTimeout)
	defer cancel()
	if err := s.sessions.Restart(ctx); err != nil {
		s.logger.Error("session restart after config change failed", "error", err)
	}
	s.notifier.Broadcast(configUpdatedEvent)
	writeJSON(w, status, map[string]string{"message": message})
}

// writeUpdateError maps store failures onto status codes: validation
// problems are the caller's, everything else is ours.
func (s *Server) writeUpdateError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, errors.ErrInvalidConfig) ||
		stderrors.Is(err, errors.ErrTopicConflict) ||
		stderrors.Is(err, errors.ErrMissingConfig) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("persisting configuration failed", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to persist configuration")
}

// readBody reads a bounded request body, answering for itself on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBodySize))
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// noStore keeps the admin UI from caching stale configuration.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

package metric

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/schemagate/errors"
)

// Server exposes the Prometheus registry over HTTP alongside a
// liveness endpoint.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry

	mu     sync.Mutex
	server *http.Server // nil when not running
}

// NewServer returns a server for the registry. A zero port falls back
// to 9090 and an empty path to /metrics.
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	s := &Server{port: port, path: path, registry: registry}
	if s.port == 0 {
		s.port = 9090
	}
	if s.path == "" {
		s.path = "/metrics"
	}
	return s
}

// Start serves until Stop is called and returns nil on a clean
// shutdown. Starting twice without an intervening Stop is an error.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("already serving on port %d", s.port),
			"Server", "Start", "server is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}
	s.server = srv
	s.mu.Unlock()

	// Stop closes the listener, which surfaces here as ErrServerClosed.
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to start server on port %d", s.port))
	}
	return nil
}

// Stop closes the listener. Safe to call when the server is not
// running, and the server may be started again afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop",
			"failed to stop HTTP server")
	}
	return nil
}

// Address returns the local URL where metrics are served.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, indexPage, s.path)
	})

	return mux
}

const indexPage = `<html>
<head><title>SchemaGate</title></head>
<body>
<h1>SchemaGate metrics endpoint</h1>
<ul>
<li><a href="%s">metrics</a></li>
<li><a href="/health">health</a></li>
</ul>
</body>
</html>`

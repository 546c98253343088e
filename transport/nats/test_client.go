package nats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient runs a disposable NATS broker in a container together
// with a Client connected to it.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
	cleanup   func()
}

type testConfig struct {
	version      string
	timeout      time.Duration
	startTimeout time.Duration
	clientOpts   []ClientOption
}

func defaultTestConfig() *testConfig {
	return &testConfig{
		version:      "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
}

// TestOption adjusts the container or the client under test.
type TestOption func(*testConfig)

// WithNATSVersion selects the broker image tag.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) { cfg.version = version }
}

// WithTestTimeout bounds the client connect.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) { cfg.timeout = timeout }
}

// WithStartTimeout bounds the container startup wait.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) { cfg.startTimeout = timeout }
}

// WithClientOptions passes extra options to the client under test.
func WithClientOptions(opts ...ClientOption) TestOption {
	return func(cfg *testConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewSharedTestClient starts a broker container without a testing.T so
// TestMain can share one broker across a package. The caller owns the
// returned Terminate.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	container, url, err := startBroker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := connectBroker(ctx, url, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestClient{
		container: container,
		Client:    client,
		URL:       url,
		cleanup: func() {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
		},
	}, nil
}

// NewTestClient starts a broker container for one test. Cleanup is
// registered on t; testing.TB covers benchmarks too.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("nats test broker: %v", err)
	}

	t.Cleanup(tc.cleanup)
	return tc
}

// startBroker launches the broker image and returns the container and
// the connection URL for its client port.
func startBroker(ctx context.Context, cfg *testConfig) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.version,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("resolve mapped client port: %w", err)
	}

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}

// connectBroker builds a client for the container and waits until the
// connection is usable.
func connectBroker(ctx context.Context, url string, cfg *testConfig) (*Client, error) {
	// Reconnects and background health probes only add noise in tests.
	opts := append([]ClientOption{
		WithTimeout(cfg.timeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	}, cfg.clientOpts...)

	client, err := NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("build NATS client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if err := client.WaitForConnection(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection not ready: %w", err)
	}

	return client, nil
}

// Terminate tears the broker down early; NewTestClient normally leaves
// this to t.Cleanup.
func (tc *TestClient) Terminate() error {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
	return nil
}

// IsReady reports whether the contained client still has a live
// connection.
func (tc *TestClient) IsReady() bool {
	return tc.Client.IsHealthy()
}

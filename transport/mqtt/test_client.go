package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient runs a disposable Mosquitto broker in a container
// together with a Client connected to it.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	Host      string
	Port      int
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
		version:      "2.0",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
}

// TestOption adjusts the container or the client under test.
type TestOption func(*testConfig)

// WithMosquittoVersion selects the broker image tag.
func WithMosquittoVersion(version string) TestOption {
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

	container, host, port, err := startBroker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := connectBroker(ctx, host, port, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestClient{
		container: container,
		Client:    client,
		Host:      host,
		Port:      port,
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
		t.Fatalf("mqtt test broker: %v", err)
	}

	t.Cleanup(tc.cleanup)
	return tc
}

// startBroker launches the broker image and returns the container plus
// the host and mapped port of its listener.
func startBroker(ctx context.Context, cfg *testConfig) (testcontainers.Container, string, int, error) {
	// The stock image ships a no-auth listener config.
	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + cfg.version,
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(cfg.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("start Mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", 0, fmt.Errorf("resolve container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", 0, fmt.Errorf("resolve mapped listener port: %w", err)
	}

	return container, host, port.Int(), nil
}

// connectBroker builds a client for the container and waits until the
// connection is usable.
func connectBroker(ctx context.Context, host string, port int, cfg *testConfig) (*Client, error) {
	// Background health probes only add noise in tests.
	opts := append([]ClientOption{
		WithConnectTimeout(cfg.timeout),
		WithHealthInterval(0),
	}, cfg.clientOpts...)

	client, err := NewClient(host, port, opts...)
	if err != nil {
		return nil, fmt.Errorf("build MQTT client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to Mosquitto: %w", err)
	}
	if err := client.WaitForConnection(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("MQTT connection not ready: %w", err)
	}

	return client, nil
}

// NewAttachedClient connects another client to the same broker, for
// tests that want a separate publisher and subscriber.
func (tc *TestClient) NewAttachedClient(t testing.TB, opts ...ClientOption) *Client {
	t.Helper()

	clientOpts := append([]ClientOption{WithHealthInterval(0)}, opts...)
	client, err := NewClient(tc.Host, tc.Port, clientOpts...)
	if err != nil {
		t.Fatalf("build attached MQTT client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect attached MQTT client: %v", err)
	}

	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
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

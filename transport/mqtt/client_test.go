package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/pkg/tlsutil"
	"github.com/c360/schemagate/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{
		WithLogger(discardLogger()),
		WithHealthInterval(0),
	}
	client, err := NewClient("localhost", 1883, append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNewClient_Defaults(t *testing.T) {
	client := newTestClient(t)

	assert.Equal(t, transport.StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, byte(1), client.qos)
	assert.True(t, client.cleanSession)
	assert.Equal(t, "tcp://localhost:1883", client.BrokerURL())
	assert.Contains(t, client.clientID, "schemagate-")
}

func TestNewClient_OptionValidation(t *testing.T) {
	tests := []struct {
		name    string
		opt     ClientOption
		wantErr string
	}{
		{
			name:    "empty_client_id",
			opt:     WithClientID(""),
			wantErr: "client ID cannot be empty",
		},
		{
			name:    "invalid_qos",
			opt:     WithQoS(3),
			wantErr: "QoS must be 0, 1, or 2",
		},
		{
			name:    "short_keepalive",
			opt:     WithKeepAlive(100 * time.Millisecond),
			wantErr: "keepalive must be at least 1s",
		},
		{
			name:    "zero_connect_timeout",
			opt:     WithConnectTimeout(0),
			wantErr: "connect timeout must be positive",
		},
		{
			name:    "negative_health_interval",
			opt:     WithHealthInterval(-time.Second),
			wantErr: "health interval cannot be negative",
		},
		{
			name:    "zero_circuit_threshold",
			opt:     WithCircuitBreakerThreshold(0),
			wantErr: "circuit breaker threshold must be at least 1",
		},
		{
			name:    "nil_logger",
			opt:     WithLogger(nil),
			wantErr: "logger cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("localhost", 1883, tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewClient_AppliesOptions(t *testing.T) {
	client := newTestClient(t,
		WithClientID("gate-1"),
		WithCredentials("user", "secret"),
		WithQoS(2),
		WithCleanSession(false),
		WithKeepAlive(time.Minute),
		WithHandlerTimeout(5*time.Second),
		WithCircuitBreakerThreshold(2),
		WithMaxBackoff(10*time.Second),
	)

	assert.Equal(t, "gate-1", client.clientID)
	assert.Equal(t, "user", client.username)
	assert.Equal(t, byte(2), client.qos)
	assert.False(t, client.cleanSession)
	assert.Equal(t, time.Minute, client.keepAlive)
	assert.Equal(t, 5*time.Second, client.handlerTimeout)
	assert.Equal(t, int32(2), client.circuitThreshold)
	assert.Equal(t, 10*time.Second, client.maxBackoff)
}

func TestBrokerURL_TLSScheme(t *testing.T) {
	client := newTestClient(t, WithTLS(tlsutil.ClientTLSConfig{Enabled: true}))
	assert.Equal(t, "ssl://localhost:1883", client.BrokerURL())
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.Publish(ctx, "sensors/temp", []byte(`{}`), false)
	assert.ErrorIs(t, err, pkgerrors.ErrNoConnection)

	err = client.Subscribe(ctx, "sensors/temp", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, pkgerrors.ErrNoConnection)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	client := newTestClient(t, WithCircuitBreakerThreshold(3))

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, transport.StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, transport.StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())

	// Connect refuses outright while the circuit is open.
	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrCircuitOpen)
}

func TestCircuitBreaker_BackoffDoublesAndCaps(t *testing.T) {
	client := newTestClient(t,
		WithCircuitBreakerThreshold(1),
		WithMaxBackoff(3*time.Second),
	)

	assert.Equal(t, time.Second, client.Backoff())

	client.recordFailure()
	assert.Equal(t, 2*time.Second, client.Backoff())

	client.recordFailure()
	assert.Equal(t, 3*time.Second, client.Backoff())

	client.recordFailure()
	assert.Equal(t, 3*time.Second, client.Backoff())
}

func TestCircuitBreaker_ResetRestoresDefaults(t *testing.T) {
	client := newTestClient(t, WithCircuitBreakerThreshold(1))

	client.recordFailure()
	require.Equal(t, transport.StatusCircuitOpen, client.Status())

	client.resetCircuit()

	assert.Equal(t, transport.StatusDisconnected, client.Status())
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_TestTransitionAllowsRetry(t *testing.T) {
	client := newTestClient(t, WithCircuitBreakerThreshold(1))

	client.recordFailure()
	require.Equal(t, transport.StatusCircuitOpen, client.Status())

	client.testCircuit()
	assert.Equal(t, transport.StatusDisconnected, client.Status())
}

func TestClient_CloseIdempotent(t *testing.T) {
	client := newTestClient(t, WithCredentials("user", "secret"))
	ctx := context.Background()

	require.NoError(t, client.Close(ctx))
	require.NoError(t, client.Close(ctx))

	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
	assert.Equal(t, transport.StatusDisconnected, client.Status())
}

func TestClient_GetStatus(t *testing.T) {
	client := newTestClient(t, WithCircuitBreakerThreshold(5))

	client.recordFailure()
	status := client.GetStatus()

	assert.Equal(t, int32(1), status.FailureCount)
	assert.WithinDuration(t, time.Now(), status.LastFailureTime, time.Second)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.WaitForConnection(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection timeout")
}

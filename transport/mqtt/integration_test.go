//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/schemagate/transport"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	client := tc.Client

	ctx := context.Background()

	var mu sync.Mutex
	var received [][]byte
	done := make(chan struct{})

	err := client.Subscribe(ctx, "sensors/temperature", func(_ context.Context, topic string, payload []byte) {
		assert.Equal(t, "sensors/temperature", topic)
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	err = client.Publish(ctx, "sensors/temperature", []byte(`{"temperature": 21.5}`), false)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.JSONEq(t, `{"temperature": 21.5}`, string(received[0]))
}

func TestIntegration_TwoClients(t *testing.T) {
	tc := NewTestClient(t)
	subscriber := tc.Client
	publisher := tc.NewAttachedClient(t)

	ctx := context.Background()

	payloads := make(chan []byte, 3)
	err := subscriber.Subscribe(ctx, "sensors/+/status", func(_ context.Context, _ string, payload []byte) {
		payloads <- payload
	})
	require.NoError(t, err)

	for _, msg := range []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`} {
		require.NoError(t, publisher.Publish(ctx, "sensors/lamp/status", []byte(msg), false))
	}

	for i := 1; i <= 3; i++ {
		select {
		case payload := <-payloads:
			assert.Contains(t, string(payload), `"seq"`)
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d not delivered within timeout", i)
		}
	}
}

func TestIntegration_CloseStopsDelivery(t *testing.T) {
	tc := NewTestClient(t)
	publisher := tc.NewAttachedClient(t)

	subscriber := tc.NewAttachedClient(t)
	ctx := context.Background()

	var count int
	var mu sync.Mutex
	err := subscriber.Subscribe(ctx, "sensors/gone", func(_ context.Context, _ string, _ []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, subscriber.Close(ctx))
	assert.Equal(t, transport.StatusDisconnected, subscriber.Status())

	require.NoError(t, publisher.Publish(ctx, "sensors/gone", []byte(`{}`), false))
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "closed client must not receive messages")
}

func TestIntegration_WaitForConnection(t *testing.T) {
	tc := NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, tc.Client.WaitForConnection(ctx))
	assert.True(t, tc.IsReady())
}

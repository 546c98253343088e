// Package session owns the transport lifecycle: connect, subscribe, the
// message worker, stop, and restart. A Session is one generation of
// broker connection plus the mapping index and schema cache it was built
// with; the Manager guarantees at most one session is active at a time
// and applies configuration changes with a full stop/start cycle.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/schemagate/errors"
	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/pkg/retry"
	"github.com/c360/schemagate/router"
	"github.com/c360/schemagate/schema"
	"github.com/c360/schemagate/sink"
	"github.com/c360/schemagate/transport"
)

// inboundMessage is one raw delivery queued for the worker.
type inboundMessage struct {
	topic   string
	payload []byte
}

// Session is one generation of broker connection, mapping index, and
// schema cache. A single worker goroutine processes queued messages
// sequentially; nothing a session holds is mutated after open, so the
// worker runs without locks.
type Session struct {
	id     string
	gen    uint64
	client transport.Client
	index  *mapping.Index
	router *router.Router

	connectRetry retry.Config

	inbound chan inboundMessage
	stop    chan struct{}
	done    chan struct{}

	logger *slog.Logger
}

func newSession(
	gen uint64,
	client transport.Client,
	index *mapping.Index,
	cache *schema.Cache,
	timeseries sink.Writer,
	metrics *router.Metrics,
	queueSize int,
	connectRetry retry.Config,
	logger *slog.Logger,
) (*Session, error) {
	id := uuid.NewString()

	r, err := router.New(index, cache, client, timeseries, metrics, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:           id,
		gen:          gen,
		client:       client,
		index:        index,
		router:       r,
		connectRetry: connectRetry,
		inbound:      make(chan inboundMessage, queueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.With("session_id", id, "generation", gen),
	}, nil
}

// open connects, subscribes every routed topic, and starts the worker.
// The connect is retried on the session's backoff schedule so a broker
// that is still coming up does not fail the start. A failed subscribe
// tears the connection down again so no half-open session leaks
// subscriptions.
func (s *Session) open(ctx context.Context) error {
	connect := func() error { return s.client.Connect(ctx) }
	if err := retry.Do(ctx, s.connectRetry, connect); err != nil {
		return errors.WrapTransient(err, "Session", "open", "broker connect")
	}

	for _, topic := range s.index.Topics() {
		if err := s.client.Subscribe(ctx, topic, s.enqueue); err != nil {
			if closeErr := s.client.Close(ctx); closeErr != nil {
				s.logger.Warn("teardown after failed subscribe", "error", closeErr)
			}
			return errors.WrapTransient(err, "Session", "open", fmt.Sprintf("subscribe %s", topic))
		}
		s.logger.Debug("subscribed", "topic", topic)
	}

	go s.run()
	return nil
}

// enqueue hands a delivery to the worker. Deliveries racing the stop
// signal are dropped; the queue is abandoned during shutdown.
func (s *Session) enqueue(_ context.Context, topic string, payload []byte) {
	select {
	case s.inbound <- inboundMessage{topic: topic, payload: payload}:
	case <-s.stop:
	}
}

// run is the session worker. Messages are handled one at a time; the
// stop signal is observed between messages, never mid-message.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.inbound:
			s.router.HandleMessage(context.Background(), msg.topic, msg.payload)
		}
	}
}

// shutdown signals the worker, waits for it up to the given window, and
// closes the broker connection regardless. Closing tears down the
// subscriptions even when the worker is still busy with a message.
func (s *Session) shutdown(ctx context.Context, wait time.Duration) error {
	close(s.stop)

	var workerErr error
	select {
	case <-s.done:
	case <-time.After(wait):
		workerErr = errors.WrapTransient(errors.ErrShuttingDown, "Session", "shutdown",
			"worker still busy after stop window")
	case <-ctx.Done():
		workerErr = ctx.Err()
	}

	if err := s.client.Close(ctx); err != nil && workerErr == nil {
		workerErr = errors.WrapTransient(err, "Session", "shutdown", "broker close")
	}
	return workerErr
}

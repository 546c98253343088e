package transport

import (
	"context"
	"fmt"
	"sync"
)

// Message is one published message recorded by the Loopback client.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Loopback is an in-process Client: publishes are delivered synchronously
// to matching subscribers and recorded for inspection. It backs unit tests
// for everything above the transport without a broker.
type Loopback struct {
	mu        sync.RWMutex
	connected bool
	subs      map[string][]MessageHandler
	published []Message

	// ConnectErr, when set, is returned by every Connect call.
	ConnectErr error
	// PublishErr, when set, is returned by every Publish call.
	PublishErr error
}

// NewLoopback returns a disconnected in-process client.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string][]MessageHandler)}
}

// Connect marks the client connected. A closed loopback can reconnect, so
// one instance can serve several sessions in restart tests.
func (l *Loopback) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ConnectErr != nil {
		return l.ConnectErr
	}
	l.connected = true
	return nil
}

// Subscribe registers a handler for exact-topic delivery.
func (l *Loopback) Subscribe(_ context.Context, topic string, handler MessageHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return fmt.Errorf("loopback: subscribe while disconnected")
	}
	l.subs[topic] = append(l.subs[topic], handler)
	return nil
}

// Publish records the message and delivers it synchronously to every
// handler subscribed to the topic.
func (l *Loopback) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	l.mu.Lock()
	if l.PublishErr != nil {
		err := l.PublishErr
		l.mu.Unlock()
		return err
	}
	if !l.connected {
		l.mu.Unlock()
		return fmt.Errorf("loopback: publish while disconnected")
	}
	l.published = append(l.published, Message{Topic: topic, Payload: append([]byte(nil), payload...), Retained: retained})
	handlers := append([]MessageHandler(nil), l.subs[topic]...)
	l.mu.Unlock()

	for _, h := range handlers {
		h(ctx, topic, payload)
	}
	return nil
}

// Close drops all subscriptions and disconnects.
func (l *Loopback) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.subs = make(map[string][]MessageHandler)
	return nil
}

// Status reports connected or disconnected; the loopback has no
// intermediate states.
func (l *Loopback) Status() ConnectionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.connected {
		return StatusConnected
	}
	return StatusDisconnected
}

// IsHealthy is true while connected.
func (l *Loopback) IsHealthy() bool {
	return l.Status() == StatusConnected
}

// Deliver injects an inbound message as if a foreign publisher sent it,
// without recording it as one of this client's publishes.
func (l *Loopback) Deliver(ctx context.Context, topic string, payload []byte) {
	l.mu.RLock()
	handlers := append([]MessageHandler(nil), l.subs[topic]...)
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, topic, payload)
	}
}

// Published returns a copy of every message published so far.
func (l *Loopback) Published() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message(nil), l.published...)
}

// PublishedTo filters Published by topic.
func (l *Loopback) PublishedTo(topic string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Message
	for _, m := range l.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// SubscriptionCount reports how many handlers are registered for a topic.
// Restart tests use it to prove old sessions unsubscribed.
func (l *Loopback) SubscriptionCount(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[topic])
}

// Reset clears recorded publishes, keeping subscriptions.
func (l *Loopback) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = nil
}

var _ Client = (*Loopback)(nil)

// Package sink defines the fire-and-forget time-series writer contract.
//
// Sinks record routing outcomes for dashboards and offline analysis. They
// are strictly observational: a sink failure must never stall or fail the
// message path, so the write methods return nothing and implementations
// swallow errors after logging them.
package sink

import "context"

// Writer records routing outcomes in a time-series backend.
type Writer interface {
	// WriteValidated records a payload that passed validation (or was
	// waved through fail-open). The record is the decoded payload.
	WriteValidated(ctx context.Context, topic string, record map[string]any)

	// WriteFailed records a validation failure. The envelope is the
	// failure report published to the failed topic.
	WriteFailed(ctx context.Context, topic string, envelope map[string]any)

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close flushes buffered writes and releases the backend connection.
	Close(ctx context.Context) error
}

// Nop is the writer used when no time-series backend is configured.
type Nop struct{}

func (Nop) WriteValidated(context.Context, string, map[string]any) {}

func (Nop) WriteFailed(context.Context, string, map[string]any) {}

func (Nop) Name() string { return "nop" }

func (Nop) Close(context.Context) error { return nil }

// Multi fans writes out to several writers. Nil entries are skipped.
// Close closes every writer and returns the first error.
func Multi(writers ...Writer) Writer {
	kept := make([]Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			kept = append(kept, w)
		}
	}
	return multiWriter(kept)
}

type multiWriter []Writer

func (m multiWriter) WriteValidated(ctx context.Context, topic string, record map[string]any) {
	for _, w := range m {
		w.WriteValidated(ctx, topic, record)
	}
}

func (m multiWriter) WriteFailed(ctx context.Context, topic string, envelope map[string]any) {
	for _, w := range m {
		w.WriteFailed(ctx, topic, envelope)
	}
}

func (m multiWriter) Name() string { return "multi" }

func (m multiWriter) Close(ctx context.Context) error {
	var firstErr error
	for _, w := range m {
		if err := w.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

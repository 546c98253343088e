// Package retry runs an operation under an exponential backoff
// schedule until it succeeds, the attempt budget runs out, or the
// context is cancelled.
//
// A Config names the schedule: attempt count, initial and maximum
// delay, growth multiplier, and optional jitter of up to a quarter of
// the current delay. DefaultConfig, Quick, and Persistent are the
// presets used across the gateway; Quick covers broker connects and
// sink startup probes, where the dependency is usually seconds from
// ready.
//
//	connect := func() error { return client.Connect(ctx) }
//	if err := retry.Do(ctx, retry.Quick(), connect); err != nil {
//	    return err
//	}
//
// DoWithResult is the same loop for operations that produce a value.
// Wrapping an error with NonRetryable stops the loop at once and hands
// the error back unchanged.
//
// The package deliberately stays below error classification and
// circuit breaking: callers decide what is worth retrying, and the
// transport adapters carry their own breakers.
package retry

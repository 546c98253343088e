package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// maxMultiplier bounds backoff growth so a misconfigured multiplier
// cannot overflow the delay arithmetic.
const maxMultiplier = 1000

// Fallbacks applied by Do when the corresponding Config field is zero.
const (
	fallbackInitialDelay = 100 * time.Millisecond
	fallbackMaxDelay     = 5 * time.Second
	fallbackMultiplier   = 2.0
)

// Config shapes the retry schedule for Do.
type Config struct {
	MaxAttempts  int           // total tries including the first; <= 0 means one
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // ceiling the grown delay is clamped to
	Multiplier   float64       // growth factor applied after each failure
	AddJitter    bool          // stretch each delay by up to 25% at random
}

// DefaultConfig suits ordinary transient failures: three tries spread
// over roughly a third of a second.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick retries aggressively for a few seconds. Startup probes use it
// to ride out a dependency that is still coming up.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent keeps trying for minutes and suits resources the process
// cannot run without.
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// validate rejects schedules that make no sense before the first
// attempt runs.
func (c Config) validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return errors.New("retry: Multiplier cannot be negative")
	}
	return nil
}

// normalized fills zero fields with the fallbacks and bounds the
// multiplier.
func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = fallbackInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = fallbackMaxDelay
	}
	switch {
	case c.Multiplier == 0:
		c.Multiplier = fallbackMultiplier
	case c.Multiplier > maxMultiplier:
		c.Multiplier = maxMultiplier
	}
	return c
}

// pause returns the delay actually slept this round, jittered when the
// schedule asks for it. The quarter must stay positive or rand.N
// panics, so sub-4ns delays pass through unjittered.
func (c Config) pause(d time.Duration) time.Duration {
	quarter := d / 4
	if !c.AddJitter || quarter <= 0 {
		return d
	}
	return d + rand.N(quarter)
}

// next grows the delay by the multiplier and clamps it to MaxDelay.
// Comparing in float space also catches growth past the int64 range.
func (c Config) next(d time.Duration) time.Duration {
	grown := float64(d) * c.Multiplier
	if grown >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(grown)
}

// wait sleeps for d unless the context ends first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, the schedule is exhausted, or ctx ends.
// Errors wrapped with NonRetryable stop the schedule after the current
// attempt and come back unchanged; everything else is treated as
// transient. A zero Config means one attempt.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	cfg = cfg.normalized()
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if IsNonRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctxErr)
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, err)
		}
		if waitErr := wait(ctx, cfg.pause(delay)); waitErr != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, waitErr)
		}
		delay = cfg.next(delay)
	}
}

// DoWithResult is Do for operations that produce a value. On terminal
// failure the zero value of T is returned alongside the error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		var inner error
		out, inner = fn()
		return inner
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// NonRetryableError marks failures more attempts cannot fix, such as
// rejected credentials or malformed input.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so Do gives up after the current attempt.
// A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether the NonRetryable marker appears
// anywhere in err's chain.
func IsNonRetryable(err error) bool {
	var marker *NonRetryableError
	return errors.As(err, &marker)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/schemagate/pkg/retry"
)

// ErrorClass sorts errors by how callers should react: retry, reject
// the input, or stop.
type ErrorClass int

const (
	// ErrorTransient marks failures worth retrying.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid marks failures caused by bad input or configuration.
	ErrorInvalid
	// ErrorFatal marks failures that should stop processing.
	ErrorFatal
)

// String returns the lowercase class name.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across the gateway.
var (
	// Session lifecycle errors
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStopped = errors.New("session already stopped")
	ErrShuttingDown   = errors.New("session is shutting down")

	// Broker connection errors
	ErrNoConnection       = errors.New("no broker connection available")
	ErrConnectionLost     = errors.New("broker connection lost")
	ErrConnectionTimeout  = errors.New("broker connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrPublishFailed      = errors.New("publish failed")

	// Message processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrNotAnObject   = errors.New("payload is not a JSON object")

	// Schema resource errors
	ErrSchemaNotFound  = errors.New("schema resource not found")
	ErrSchemaMalformed = errors.New("schema document malformed")
	ErrSchemaCompile   = errors.New("schema compilation failed")
	ErrUnknownCheck    = errors.New("unknown check name")
	ErrUnknownDtype    = errors.New("unknown dtype")

	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrTopicConflict  = errors.New("topic mapped by more than one classification")

	// Circuit breaker and retry errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrRetryTimeout       = errors.New("retry timeout exceeded")
)

// ClassifiedError carries an explicit class along with where the error
// was raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error returns the override message when one was set, otherwise the
// wrapped error's text.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Sentinel membership per class. The transient set includes the
// context errors so cancelled operations read as retryable rather than
// broken.
var (
	transientSentinels = []error{
		ErrConnectionTimeout,
		ErrConnectionLost,
		ErrNoConnection,
		ErrCircuitOpen,
		context.DeadlineExceeded,
		context.Canceled,
	}
	fatalSentinels = []error{
		ErrInvalidConfig,
		ErrMissingConfig,
		ErrTopicConflict,
	}
	invalidSentinels = []error{
		ErrInvalidData,
		ErrParsingFailed,
		ErrNotAnObject,
		ErrSchemaMalformed,
		ErrSchemaCompile,
		ErrUnknownCheck,
		ErrUnknownDtype,
	}
)

// Message fragments classify errors from libraries that never touch
// this package's sentinels. Matched case-insensitively against the
// full error text.
var (
	transientFragments = []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}
	fatalFragments = []string{
		"fatal",
		"panic",
		"corrupted",
		"invalid config",
		"missing config",
		"out of memory",
	}
)

func isAny(err error, sentinels []error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func mentionsAny(err error, fragments []string) bool {
	msg := strings.ToLower(err.Error())
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// matches reports whether err belongs to class. A ClassifiedError in
// the chain answers for itself; its explicit class outranks any
// sentinel or fragment further down.
func matches(err error, class ErrorClass, sentinels []error, fragments []string) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return isAny(err, sentinels) || mentionsAny(err, fragments)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return matches(err, ErrorTransient, transientSentinels, transientFragments)
}

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool {
	return matches(err, ErrorFatal, fatalSentinels, fatalFragments)
}

// IsInvalid reports whether err stems from bad input. Input errors are
// only recognized by sentinel; arbitrary messages never scan as
// invalid.
func IsInvalid(err error) bool {
	return matches(err, ErrorInvalid, invalidSentinels, nil)
}

// Classify resolves err to a single class. Unknown errors read as
// transient so callers keep retrying rather than dropping work.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap adds call-site context in the form
// "component.method: action failed: cause".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// wrapClass is the shared body of the three exported wrappers.
func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(class, wrapped, component, method, wrapped.Error())
}

// WrapTransient wraps err with context and marks it retryable.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it unrecoverable.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it as bad input.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// RetryConfig describes a retry budget in terms of additional attempts
// beyond the first. RetryableErrors, when set, narrows retries to
// those sentinels; empty means any transient error qualifies.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig matches the retry package defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: nil,
	}
}

// ShouldRetry reports whether attempt (zero-based) may run again after
// err.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries || !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) == 0 {
		return true
	}
	return isAny(err, rc.RetryableErrors)
}

// ToRetryConfig converts the budget into the retry package's Config.
// MaxRetries counts additional attempts, so the total gains one, and
// jitter is always on.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay returns the delay before the given zero-based attempt,
// growing geometrically and clamped to MaxDelay.
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	delay := rc.InitialDelay
	for ; attempt > 0; attempt-- {
		delay = time.Duration(float64(delay) * rc.BackoffFactor)
		if delay > rc.MaxDelay {
			return rc.MaxDelay
		}
	}
	return delay
}

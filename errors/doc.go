// Package errors classifies failures so callers can decide between
// retrying, rejecting input, and shutting down without matching on
// error strings at the call site.
//
// # Classes
//
// Every error falls into one of three classes:
//
//   - Transient: the operation may work on a later attempt. Broker
//     timeouts, lost connections, circuit-breaker rejections.
//   - Invalid: the input is wrong and retrying cannot help. Malformed
//     payloads, schema documents that fail to compile.
//   - Fatal: the process cannot continue. Broken configuration, a
//     topic mapped to two classifications.
//
// Classification looks at the error chain in order: a ClassifiedError
// anywhere in the chain answers for itself, then sentinel membership
// decides, and finally the message text is scanned for class-typical
// fragments ("timeout", "fatal"). Invalid is never guessed from text;
// only marks and sentinels produce it.
//
// # Wrapping
//
// The three wrappers attach a class together with the component and
// operation that failed, in one fixed format:
//
//	component.operation: action failed: <cause>
//
//	return errors.WrapTransient(err, "Session", "open", "broker connect")
//	return errors.WrapInvalid(err, "Validator", "Compile", "parse schema")
//	return errors.WrapFatal(err, "Loader", "Load", "read config")
//
// Wrap without a class keeps whatever class the cause already carries.
// All wrapped errors stay compatible with errors.Is and errors.As.
//
// # Sentinels
//
// Known conditions have package-level variables, grouped by concern:
// session lifecycle (ErrAlreadyStarted, ErrNotStarted, ...), broker
// connection (ErrNoConnection, ErrConnectionLost, ...), message
// processing (ErrInvalidData, ErrParsingFailed, ErrNotAnObject),
// schema resources (ErrSchemaNotFound, ErrSchemaCompile, ...), and
// configuration (ErrInvalidConfig, ErrMissingConfig, ErrTopicConflict).
// Return these rather than inventing new messages for the same
// condition; the classifiers key off them.
//
// # Retry budgets
//
// RetryConfig expresses how often a transient failure is worth
// retrying and how fast the delay grows. ShouldRetry folds the class
// check and the attempt budget into one call, and ToRetryConfig hands
// the same schedule to pkg/retry for callers that want the loop run
// for them:
//
//	rc := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, rc.ToRetryConfig(), operation)
package errors

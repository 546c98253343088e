package schema

import "fmt"

// DefinitionError reports a structurally invalid schema definition: an
// unknown check name, an unrecognized dtype, or a malformed index spec.
// Compilation rejects these up front rather than deferring to first use.
type DefinitionError struct {
	Column string // offending column, empty for document-level problems
	Check  string // offending check name, empty when not check-related
	Err    error
}

func (e *DefinitionError) Error() string {
	switch {
	case e.Column != "" && e.Check != "":
		return fmt.Sprintf("schema definition: column %q check %q: %v", e.Column, e.Check, e.Err)
	case e.Column != "":
		return fmt.Sprintf("schema definition: column %q: %v", e.Column, e.Err)
	default:
		return fmt.Sprintf("schema definition: %v", e.Err)
	}
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// LoadReason distinguishes why a schema resource could not be turned into
// a validator. Callers treat every reason as "validator unavailable" and
// apply the per-class fail-open/fail-closed policy.
type LoadReason int

const (
	// LoadMissing means the resource could not be read at all.
	LoadMissing LoadReason = iota
	// LoadMalformed means the resource was read but is not a valid JSON document.
	LoadMalformed
	// LoadCompile means the document parsed but failed compilation.
	LoadCompile
)

// String returns the string representation of LoadReason
func (r LoadReason) String() string {
	switch r {
	case LoadMissing:
		return "missing"
	case LoadMalformed:
		return "malformed"
	case LoadCompile:
		return "compile"
	default:
		return "unknown"
	}
}

// LoadError reports a failed Load with the path and reason attached.
type LoadError struct {
	Path   string
	Reason LoadReason
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("schema load %q (%s): %v", e.Path, e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func newLoadError(path string, reason LoadReason, err error) *LoadError {
	return &LoadError{Path: path, Reason: reason, Err: err}
}

func definitionErr(column, check string, err error) *DefinitionError {
	return &DefinitionError{Column: column, Check: check, Err: err}
}

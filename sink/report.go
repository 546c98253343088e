package sink

import (
	"strings"

	"github.com/c360/schemagate/schema"
)

// PrimaryFailure extracts the classification of the first failure record
// in an envelope, with "unknown" fallbacks. Adapters tag failed series by
// the leading error so dashboards can group without unpacking the report.
func PrimaryFailure(envelope map[string]any) (errorType, column string) {
	errorType, column = "unknown", "unknown"

	switch records := envelope["errors"].(type) {
	case []schema.FailureRecord:
		if len(records) > 0 {
			errorType = records[0].ErrorType
			column = records[0].Column
		}
	case []any:
		// Envelope that round-tripped through JSON.
		if len(records) > 0 {
			if rec, ok := records[0].(map[string]any); ok {
				if v, ok := rec["error_type"].(string); ok && v != "" {
					errorType = v
				}
				if v, ok := rec["column"].(string); ok && v != "" {
					column = v
				}
			}
		}
	}

	return errorType, column
}

// SubjectTag returns the trusted series identity for a topic. It is
// derived from the subscription topic rather than payload content, which
// on the failed path may be arbitrarily malformed.
func SubjectTag(topic string) string {
	return strings.Trim(topic, "/")
}

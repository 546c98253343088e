package router

import (
	"math"

	"github.com/c360/schemagate/mapping"
	"github.com/c360/schemagate/schema"
)

// newEnvelope builds the failure report published to a route's failed
// topic: the route subject under its class key ("sensor" or "actuator"),
// the classified failure records, and the decoded payload. Non-finite
// numbers are replaced with null first; JSON has no representation for
// NaN or infinity, and the envelope must always marshal.
func newEnvelope(route *mapping.Route, records []schema.FailureRecord, record map[string]any) map[string]any {
	return map[string]any{
		route.EnvelopeKey(): route.Subject(),
		"errors":            scrubRecords(records),
		"original_payload":  scrubValue(record),
	}
}

// scrubRecords copies failure records with their offending values
// scrubbed. The input slice is left untouched.
func scrubRecords(records []schema.FailureRecord) []schema.FailureRecord {
	out := make([]schema.FailureRecord, len(records))
	for i, rec := range records {
		rec.FailedValue = scrubValue(rec.FailedValue)
		out[i] = rec
	}
	return out
}

// scrubValue walks a decoded value and replaces every NaN or infinite
// number with nil. Maps and lists are copied, never mutated in place; the
// original record also feeds the validated sink and must stay intact.
func scrubValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = scrubValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = scrubValue(val)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	default:
		return v
	}
}

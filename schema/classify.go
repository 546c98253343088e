package schema

import (
	"fmt"
	"strings"
)

// Error kinds published in failure envelopes and used as metric labels.
// check_failed carries the failing check's bare name as a suffix, e.g.
// "check_failed:isin".
const (
	KindMissingField    = "missing_field"
	KindExtraField      = "extra_field"
	KindWrongType       = "wrong_type"
	KindNullValue       = "null_value"
	KindBadFormat       = "bad_format"
	KindMismatchedValue = "mismatched_value"
	KindOutOfRange      = "out_of_range"
	KindCheckFailed     = "check_failed"
	KindUnknown         = "unknown"
)

// Placeholder values for failures where there is no offending value to show.
const (
	placeholderMissing = "N/A (Missing Field)"
	placeholderExtra   = "N/A (Extra Field)"
)

// kindPriority orders kinds by severity; lower wins when one column
// accumulates several failures. Structural problems outrank content
// problems.
var kindPriority = map[string]int{
	KindMissingField:    1,
	KindExtraField:      1,
	KindWrongType:       2,
	KindNullValue:       3,
	KindBadFormat:       4,
	KindMismatchedValue: 4,
	KindOutOfRange:      5,
	KindCheckFailed:     6,
	KindUnknown:         99,
}

// FailureRecord is the published report for one column: the winning
// failure after per-column deduplication.
type FailureRecord struct {
	Column      string `json:"column"`
	Check       string `json:"check"`
	Reason      string `json:"reason"`
	FailedValue any    `json:"failed_value"`
	ErrorType   string `json:"error_type"`
}

// Classify collapses raw failures into exactly one FailureRecord per
// column, keeping the highest-severity failure. Ties keep the failure
// seen first, and output preserves the order columns first appeared.
func Classify(failures []RawFailure) []FailureRecord {
	if len(failures) == 0 {
		return nil
	}

	best := make(map[string]FailureRecord, len(failures))
	order := make([]string, 0, len(failures))

	for _, f := range failures {
		rec := newFailureRecord(f)
		cur, ok := best[f.Column]
		if !ok {
			best[f.Column] = rec
			order = append(order, f.Column)
			continue
		}
		if priorityOf(rec.ErrorType) < priorityOf(cur.ErrorType) {
			best[f.Column] = rec
		}
	}

	out := make([]FailureRecord, 0, len(order))
	for _, column := range order {
		out = append(out, best[column])
	}
	return out
}

func newFailureRecord(f RawFailure) FailureRecord {
	kind := classifyKind(f.Check)
	rec := FailureRecord{
		Column:      f.Column,
		Check:       f.Check,
		FailedValue: f.Value,
		ErrorType:   kind,
	}

	switch kind {
	case KindMissingField:
		rec.FailedValue = placeholderMissing
		rec.Reason = fmt.Sprintf("Required column '%s' is missing from the payload.", f.Column)
	case KindExtraField:
		rec.FailedValue = placeholderExtra
		rec.Reason = fmt.Sprintf("Column '%s' is not defined in the schema.", f.Column)
	case KindWrongType:
		rec.Reason = fmt.Sprintf("Value '%v' in column '%s' is not of the expected type %s.", f.Value, f.Column, checkArgument(f.Check))
	case KindNullValue:
		rec.Reason = fmt.Sprintf("Column '%s' must not be null.", f.Column)
	case KindBadFormat:
		rec.Reason = fmt.Sprintf("Value '%v' in column '%s' does not match the required format %s.", f.Value, f.Column, checkArgument(f.Check))
	case KindMismatchedValue:
		rec.Reason = fmt.Sprintf("Value '%v' in column '%s' does not equal the required value %s.", f.Value, f.Column, checkArgument(f.Check))
	case KindOutOfRange:
		rec.Reason = fmt.Sprintf("Value '%v' in column '%s' is outside the allowed range: %s.", f.Value, f.Column, f.Check)
	case KindUnknown:
		rec.Reason = fmt.Sprintf("Column '%s' failed an unrecognized check.", f.Column)
	default:
		rec.Reason = fmt.Sprintf("Value '%v' in column '%s' failed check %s.", f.Value, f.Column, f.Check)
	}
	return rec
}

// classifyKind maps a rule string to its error kind by the rule's bare
// name, the part before any argument list.
func classifyKind(check string) string {
	name := check
	if i := strings.IndexByte(check, '('); i >= 0 {
		name = check[:i]
	}

	switch name {
	case checkColumnInRecord:
		return KindMissingField
	case checkColumnInSchema:
		return KindExtraField
	case "dtype":
		return KindWrongType
	case checkNotNullable:
		return KindNullValue
	case "str_matches":
		return KindBadFormat
	case "equal_to":
		return KindMismatchedValue
	case "greater_than_or_equal_to", "less_than_or_equal_to",
		"greater_than", "less_than", "between", "in_range":
		return KindOutOfRange
	case "isin", "str_startswith", "str_length", checkUnique:
		return KindCheckFailed + ":" + name
	case "":
		return KindUnknown
	default:
		return KindCheckFailed + ":" + name
	}
}

// priorityOf looks up severity by the kind's base, so every
// check_failed:<name> variant shares one priority.
func priorityOf(kind string) int {
	base := kind
	if i := strings.IndexByte(kind, ':'); i >= 0 {
		base = kind[:i]
	}
	if p, ok := kindPriority[base]; ok {
		return p
	}
	return kindPriority[KindUnknown]
}

// checkArgument extracts the argument list of a rule string, e.g.
// "'float'" from "dtype('float')". Used to phrase reasons.
func checkArgument(check string) string {
	open := strings.IndexByte(check, '(')
	end := strings.LastIndexByte(check, ')')
	if open < 0 || end <= open {
		return check
	}
	return check[open+1 : end]
}

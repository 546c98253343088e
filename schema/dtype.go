package schema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/schemagate/errors"
)

// DType is the declared value type of a column.
type DType int

const (
	// DTypeString accepts JSON strings.
	DTypeString DType = iota
	// DTypeInt accepts integral numbers.
	DTypeInt
	// DTypeFloat accepts any number.
	DTypeFloat
	// DTypeBool accepts JSON booleans.
	DTypeBool
	// DTypeDateTime accepts timestamp strings in the accepted layouts.
	DTypeDateTime
)

// String returns the canonical dtype name as written in schema documents.
func (d DType) String() string {
	switch d {
	case DTypeString:
		return "str"
	case DTypeInt:
		return "int"
	case DTypeFloat:
		return "float"
	case DTypeBool:
		return "bool"
	case DTypeDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// timestampLayouts are the accepted datetime representations, most
// specific first. Operators author timestamps as strings; the router never
// converts them to a native time value.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDType maps a schema document dtype string to its DType. Aliases
// match what operators write in practice (str/string, int/int64, ...).
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "str", "string":
		return DTypeString, nil
	case "int", "int64", "integer":
		return DTypeInt, nil
	case "float", "float64", "double", "number":
		return DTypeFloat, nil
	case "bool", "boolean":
		return DTypeBool, nil
	case "datetime", "timestamp", "datetime64[ns]":
		return DTypeDateTime, nil
	default:
		return 0, errors.ErrUnknownDtype
	}
}

// conforms reports whether a decoded JSON value already satisfies the dtype
// without coercion. JSON numbers arrive as float64; an integral float64
// conforms to int.
func (d DType) conforms(v any) bool {
	switch d {
	case DTypeString:
		_, ok := v.(string)
		return ok
	case DTypeInt:
		n, ok := asNumber(v)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0) && math.Trunc(n) == n
	case DTypeFloat:
		_, ok := asNumber(v)
		return ok
	case DTypeBool:
		_, ok := v.(bool)
		return ok
	case DTypeDateTime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		return parseTimestamp(s)
	default:
		return false
	}
}

// coerce attempts to convert a value to the dtype, returning the converted
// value and whether the conversion succeeded. Conversions mirror what the
// validated payload may carry downstream: numbers from numeric strings,
// strings from scalars, booleans from their textual forms.
func (d DType) coerce(v any) (any, bool) {
	if d.conforms(v) {
		return canonicalValue(d, v), true
	}

	switch d {
	case DTypeString:
		switch s := v.(type) {
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(s), true
		}
	case DTypeInt:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return float64(n), true
			}
		}
	case DTypeFloat:
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case DTypeBool:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b, true
			}
		}
	case DTypeDateTime:
		// Timestamps are only ever strings; no cross-type coercion.
	}
	return v, false
}

// canonicalValue normalizes a conforming value so checks see one
// representation per dtype.
func canonicalValue(d DType, v any) any {
	if d == DTypeInt || d == DTypeFloat {
		n, _ := asNumber(v)
		return n
	}
	return v
}

// asNumber extracts a float64 from the numeric types a record may carry.
// Decoded JSON yields float64; test fixtures and replay tooling may supply
// native Go integers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func parseTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

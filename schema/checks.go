package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/c360/schemagate/errors"
)

// CheckFunc evaluates one value against a compiled predicate. Values reach
// checks after dtype conformance, so predicates may assume the declared
// type but must still fail closed on anything unexpected.
type CheckFunc func(v any) bool

// compiledCheck pairs a predicate with the canonical rule string reported
// on failure, e.g. "between(-40, 85)".
type compiledCheck struct {
	rule string
	fn   CheckFunc
}

// checkBuilder turns the raw JSON parameter of a named check into an
// executable predicate plus its canonical rule string.
type checkBuilder func(arg json.RawMessage) (CheckFunc, string, error)

var (
	geBuilder = compareBuilder("greater_than_or_equal_to", func(v, bound float64) bool { return v >= bound })
	leBuilder = compareBuilder("less_than_or_equal_to", func(v, bound float64) bool { return v <= bound })
	gtBuilder = compareBuilder("greater_than", func(v, bound float64) bool { return v > bound })
	ltBuilder = compareBuilder("less_than", func(v, bound float64) bool { return v < bound })
)

// checkRegistry is the check library: every predicate a schema document may
// reference by name, aliases included. Unknown names are rejected at
// compile time.
var checkRegistry = map[string]checkBuilder{
	"greater_than_or_equal_to": geBuilder,
	"ge":                       geBuilder,
	"less_than_or_equal_to":    leBuilder,
	"le":                       leBuilder,
	"greater_than":             gtBuilder,
	"gt":                       gtBuilder,
	"less_than":                ltBuilder,
	"lt":                       ltBuilder,
	"between":                  rangeBuilder("between"),
	"in_range":                 rangeBuilder("in_range"),
	"isin":                     buildIsin,
	"equal_to":                 buildEqualTo,
	"eq":                       buildEqualTo,
	"str_matches":              buildStrMatches,
	"str_startswith":           buildStrStartswith,
	"str_length":               buildStrLength,
}

// KnownChecks returns the sorted names accepted by the check library.
func KnownChecks() []string {
	names := make([]string, 0, len(checkRegistry))
	for name := range checkRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildCheck resolves one named check for a column.
func buildCheck(column, name string, arg json.RawMessage) (compiledCheck, error) {
	builder, ok := checkRegistry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return compiledCheck{}, definitionErr(column, name, errors.ErrUnknownCheck)
	}

	fn, rule, err := builder(arg)
	if err != nil {
		return compiledCheck{}, definitionErr(column, name, fmt.Errorf("%w: %v", errors.ErrSchemaCompile, err))
	}
	return compiledCheck{rule: rule, fn: fn}, nil
}

// compareBuilder covers the four scalar comparison checks.
func compareBuilder(name string, cmp func(v, bound float64) bool) checkBuilder {
	return func(arg json.RawMessage) (CheckFunc, string, error) {
		var bound float64
		if err := json.Unmarshal(arg, &bound); err != nil {
			return nil, "", fmt.Errorf("%s expects a numeric parameter: %w", name, err)
		}

		rule := fmt.Sprintf("%s(%s)", name, formatNumber(bound))
		fn := func(v any) bool {
			n, ok := asNumber(v)
			return ok && cmp(n, bound)
		}
		return fn, rule, nil
	}
}

// rangeBuilder covers the inclusive interval checks. The parameter is
// either a [min, max] pair or a {"min_value", "max_value"} object.
func rangeBuilder(name string) checkBuilder {
	return func(arg json.RawMessage) (CheckFunc, string, error) {
		lo, hi, err := rangeBounds(arg)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", name, err)
		}
		if lo > hi {
			return nil, "", fmt.Errorf("%s: min %s exceeds max %s", name, formatNumber(lo), formatNumber(hi))
		}

		rule := fmt.Sprintf("%s(%s, %s)", name, formatNumber(lo), formatNumber(hi))
		fn := func(v any) bool {
			n, ok := asNumber(v)
			return ok && n >= lo && n <= hi
		}
		return fn, rule, nil
	}
}

func rangeBounds(arg json.RawMessage) (float64, float64, error) {
	var pair []float64
	if err := json.Unmarshal(arg, &pair); err == nil {
		if len(pair) != 2 {
			return 0, 0, fmt.Errorf("expects exactly two bounds, got %d", len(pair))
		}
		return pair[0], pair[1], nil
	}

	var obj struct {
		Min *float64 `json:"min_value"`
		Max *float64 `json:"max_value"`
	}
	if err := json.Unmarshal(arg, &obj); err != nil || obj.Min == nil || obj.Max == nil {
		return 0, 0, fmt.Errorf("expects a [min, max] pair or a min_value/max_value object")
	}
	return *obj.Min, *obj.Max, nil
}

func buildIsin(arg json.RawMessage) (CheckFunc, string, error) {
	var allowed []any
	if err := json.Unmarshal(arg, &allowed); err != nil {
		return nil, "", fmt.Errorf("isin expects a list parameter: %w", err)
	}
	if len(allowed) == 0 {
		return nil, "", fmt.Errorf("isin expects a non-empty list")
	}

	parts := make([]string, len(allowed))
	for i, m := range allowed {
		parts[i] = formatArg(m)
	}
	rule := fmt.Sprintf("isin([%s])", strings.Join(parts, ", "))

	fn := func(v any) bool {
		for _, m := range allowed {
			if scalarEqual(v, m) {
				return true
			}
		}
		return false
	}
	return fn, rule, nil
}

func buildEqualTo(arg json.RawMessage) (CheckFunc, string, error) {
	var want any
	if err := json.Unmarshal(arg, &want); err != nil {
		return nil, "", fmt.Errorf("equal_to expects a scalar parameter: %w", err)
	}

	rule := fmt.Sprintf("equal_to(%s)", formatArg(want))
	fn := func(v any) bool {
		return scalarEqual(v, want)
	}
	return fn, rule, nil
}

func buildStrMatches(arg json.RawMessage) (CheckFunc, string, error) {
	var pattern string
	if err := json.Unmarshal(arg, &pattern); err != nil {
		return nil, "", fmt.Errorf("str_matches expects a string pattern: %w", err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("str_matches pattern does not compile: %w", err)
	}

	rule := fmt.Sprintf("str_matches('%s')", pattern)
	fn := func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
	return fn, rule, nil
}

func buildStrStartswith(arg json.RawMessage) (CheckFunc, string, error) {
	var prefix string
	if err := json.Unmarshal(arg, &prefix); err != nil {
		return nil, "", fmt.Errorf("str_startswith expects a string parameter: %w", err)
	}

	rule := fmt.Sprintf("str_startswith('%s')", prefix)
	fn := func(v any) bool {
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, prefix)
	}
	return fn, rule, nil
}

// buildStrLength accepts a single integer (exact length) or a [min, max]
// pair of inclusive bounds. Lengths count runes, not bytes.
func buildStrLength(arg json.RawMessage) (CheckFunc, string, error) {
	var exact int
	if err := json.Unmarshal(arg, &exact); err == nil {
		if exact < 0 {
			return nil, "", fmt.Errorf("str_length expects a non-negative length")
		}
		rule := fmt.Sprintf("str_length(%d)", exact)
		fn := func(v any) bool {
			s, ok := v.(string)
			return ok && utf8.RuneCountInString(s) == exact
		}
		return fn, rule, nil
	}

	var pair []int
	if err := json.Unmarshal(arg, &pair); err != nil || len(pair) != 2 {
		return nil, "", fmt.Errorf("str_length expects an integer or a [min, max] pair")
	}
	if pair[0] > pair[1] || pair[0] < 0 {
		return nil, "", fmt.Errorf("str_length bounds [%d, %d] are invalid", pair[0], pair[1])
	}

	rule := fmt.Sprintf("str_length(%d, %d)", pair[0], pair[1])
	fn := func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		n := utf8.RuneCountInString(s)
		return n >= pair[0] && n <= pair[1]
	}
	return fn, rule, nil
}

// scalarEqual compares two decoded JSON scalars. Numbers compare
// numerically regardless of underlying Go type; non-scalar values never
// compare equal.
func scalarEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatArg renders a check parameter for a rule string: strings quoted,
// numbers plain, everything else in its JSON-ish literal form.
func formatArg(v any) string {
	switch a := v.(type) {
	case string:
		return "'" + a + "'"
	case float64:
		return formatNumber(a)
	case bool:
		return strconv.FormatBool(a)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", a)
	}
}

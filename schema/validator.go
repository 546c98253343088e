package schema

import (
	"fmt"
	"sort"
)

// Rule names the validator emits outside the check library. Classification
// keys off these strings, so they are fixed.
const (
	checkColumnInRecord = "column_in_record"
	checkColumnInSchema = "column_in_schema"
	checkNotNullable    = "not_nullable"
	checkUnique         = "unique"
)

// RawFailure is a single rule violation against one field of one record.
// It carries the rule string verbatim; Classify derives the error kind
// and human-readable reason from it.
type RawFailure struct {
	Column string
	Check  string
	Value  any
}

// Validator is a compiled schema. It is immutable after Compile and safe
// for concurrent use; validation never mutates the records it is given.
type Validator struct {
	columns []compiledColumn
	known   map[string]struct{}
	strict  bool
}

// Validate reports every rule violation in a single decoded record. An
// empty result means the record conforms.
func (v *Validator) Validate(record map[string]any) []RawFailure {
	return v.ValidateBatch([]map[string]any{record})
}

// ValidateBatch validates records in order. Uniqueness constraints apply
// across the whole batch: a repeated value is reported on its second and
// later occurrences.
func (v *Validator) ValidateBatch(records []map[string]any) []RawFailure {
	var failures []RawFailure
	seen := make(map[string]map[string]struct{})

	for _, record := range records {
		failures = append(failures, v.validateRecord(record, seen)...)
	}
	return failures
}

func (v *Validator) validateRecord(record map[string]any, seen map[string]map[string]struct{}) []RawFailure {
	var failures []RawFailure

	for i := range v.columns {
		col := &v.columns[i]

		value, present := record[col.name]
		if !present {
			failures = append(failures, RawFailure{Column: col.name, Check: checkColumnInRecord})
			continue
		}
		if value == nil {
			if !col.nullable {
				failures = append(failures, RawFailure{Column: col.name, Check: checkNotNullable})
			}
			// Checks never run against null, nullable or not.
			continue
		}

		checked, ok := col.conform(value)
		if !ok {
			failures = append(failures, RawFailure{Column: col.name, Check: col.dtypeRule, Value: value})
			continue
		}

		for _, check := range col.checks {
			if !check.fn(checked) {
				failures = append(failures, RawFailure{Column: col.name, Check: check.rule, Value: value})
			}
		}

		if col.unique {
			key := fmt.Sprint(checked)
			values := seen[col.name]
			if values == nil {
				values = make(map[string]struct{})
				seen[col.name] = values
			}
			if _, dup := values[key]; dup {
				failures = append(failures, RawFailure{Column: col.name, Check: checkUnique, Value: value})
			} else {
				values[key] = struct{}{}
			}
		}
	}

	if v.strict {
		var extras []string
		for key := range record {
			if _, ok := v.known[key]; !ok {
				extras = append(extras, key)
			}
		}
		sort.Strings(extras)
		for _, key := range extras {
			failures = append(failures, RawFailure{Column: key, Check: checkColumnInSchema, Value: record[key]})
		}
	}

	return failures
}

// conform resolves the value the checks should see: the coerced value when
// coercion is on, the canonical form of a conforming value otherwise.
func (c *compiledColumn) conform(value any) (any, bool) {
	if c.coerce {
		return c.dtype.coerce(value)
	}
	if !c.dtype.conforms(value) {
		return nil, false
	}
	return canonicalValue(c.dtype, value), true
}

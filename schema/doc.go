// Package schema compiles JSON schema documents into validators and
// classifies their failures into publishable reports.
//
// A schema document declares typed columns with optional checks, document
// flags (strict, coerce), and an optional key spec:
//
//	{
//	  "columns": {
//	    "temperature": {
//	      "dtype": "float",
//	      "checks": {"in_range": {"min_value": -40, "max_value": 85}}
//	    },
//	    "unit": {"dtype": "str", "checks": {"isin": ["C", "F"]}}
//	  },
//	  "index": {"name": "sensor_id", "dtype": "str"},
//	  "strict": true
//	}
//
// Compile resolves every check against the built-in check library and
// returns an immutable Validator. Validation reports raw failures; the
// classifier collapses them to one FailureRecord per column, keeping the
// most severe failure when a column trips several rules:
//
//	v, err := schema.Load("schemas/temperature.json")
//	if err != nil {
//	    // *LoadError says whether the file was missing, malformed,
//	    // or failed to compile
//	}
//	report := schema.Classify(v.Validate(record))
//
// # Check library
//
// Checks are named predicates with JSON arguments: comparison bounds
// (greater_than_or_equal_to and friends, in_range, between), membership
// (isin), equality (equal_to), and string shape (str_matches,
// str_startswith, str_length). Unknown check names and malformed
// arguments fail at compile time, never at validation time.
//
// # Failure model
//
// Every failure is scoped to one column. Structural failures (missing or
// undeclared columns) outrank type failures, which outrank content
// failures. The published FailureRecord carries the rule string, a
// human-readable reason, the offending value, and the derived error kind
// used for routing and metrics.
//
// # Caching
//
// Cache loads each schema path once per session. Load failures are
// remembered and logged a single time; afterwards the path simply has no
// validator, which message handling maps to its unavailability policy.
package schema

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Definition is the operator-authored schema document. One definition may
// be shared by multiple topic mappings; it is immutable once compiled for
// the lifetime of a session.
type Definition struct {
	Columns map[string]ColumnSpec `json:"columns"`
	Index   IndexSpec             `json:"index,omitempty"`
	Strict  bool                  `json:"strict"`
	Coerce  bool                  `json:"coerce"`
}

// ColumnSpec describes one field: its dtype, flags, and attached checks.
type ColumnSpec struct {
	Dtype    string                     `json:"dtype"`
	Nullable bool                       `json:"nullable"`
	Unique   bool                       `json:"unique"`
	Coerce   bool                       `json:"coerce"`
	Checks   map[string]json.RawMessage `json:"checks,omitempty"`
}

// IndexColumn names one component of the document key.
type IndexColumn struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
}

// IndexSpec is the document key: a single column or a composite list.
// Schema documents write either one object or a list of objects; both
// decode into the same slice form.
type IndexSpec []IndexColumn

// UnmarshalJSON accepts a single index object or a list of them.
func (s *IndexSpec) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*s = nil
		return nil
	}

	var single IndexColumn
	if err := json.Unmarshal(data, &single); err == nil {
		*s = IndexSpec{single}
		return nil
	}

	var multi []IndexColumn
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("index spec must be an object or a list of objects: %w", err)
	}
	*s = multi
	return nil
}

// MarshalJSON writes a single object for one-column keys and a list
// otherwise, matching the authored form.
func (s IndexSpec) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]IndexColumn(s))
}

// ParseDefinition decodes a schema document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode schema document: %w", err)
	}
	return &def, nil
}

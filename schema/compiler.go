package schema

import (
	"fmt"
	"os"
	"sort"

	"github.com/c360/schemagate/errors"
)

// compiledColumn is the executable form of one column spec: its dtype,
// flags, and a fixed array of predicates resolved from the check library.
type compiledColumn struct {
	name      string
	dtype     DType
	dtypeRule string
	nullable  bool
	unique    bool
	coerce    bool
	isIndex   bool
	checks    []compiledCheck
}

// Compile turns a definition into a Validator. Compilation is pure and
// deterministic; it fails with a *DefinitionError when a check name is
// unknown, a dtype string is unrecognized, or the index spec is
// structurally invalid.
func Compile(def *Definition) (*Validator, error) {
	if def == nil {
		return nil, definitionErr("", "", fmt.Errorf("%w: nil definition", errors.ErrSchemaCompile))
	}

	names := make([]string, 0, len(def.Columns))
	for name := range def.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]compiledColumn, 0, len(names)+len(def.Index))
	known := make(map[string]struct{}, len(names)+len(def.Index))

	for _, name := range names {
		spec := def.Columns[name]
		col, err := compileColumn(name, spec, def.Coerce)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
		known[name] = struct{}{}
	}

	indexCols, err := compileIndex(def, known)
	if err != nil {
		return nil, err
	}
	for _, col := range indexCols {
		columns = append(columns, col)
		known[col.name] = struct{}{}
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].name < columns[j].name })

	return &Validator{
		columns: columns,
		known:   known,
		strict:  def.Strict,
	}, nil
}

func compileColumn(name string, spec ColumnSpec, docCoerce bool) (compiledColumn, error) {
	dt, err := ParseDType(spec.Dtype)
	if err != nil {
		return compiledColumn{}, definitionErr(name, "", fmt.Errorf("%w: %q", err, spec.Dtype))
	}

	col := compiledColumn{
		name:      name,
		dtype:     dt,
		dtypeRule: fmt.Sprintf("dtype('%s')", dt),
		nullable:  spec.Nullable,
		unique:    spec.Unique,
		coerce:    spec.Coerce || docCoerce,
	}

	// Sorted check order keeps failure reports deterministic.
	checkNames := make([]string, 0, len(spec.Checks))
	for checkName := range spec.Checks {
		checkNames = append(checkNames, checkName)
	}
	sort.Strings(checkNames)

	for _, checkName := range checkNames {
		check, err := buildCheck(name, checkName, spec.Checks[checkName])
		if err != nil {
			return compiledColumn{}, err
		}
		col.checks = append(col.checks, check)
	}

	return col, nil
}

// compileIndex turns the key spec into required, non-nullable columns. A
// single unnamed index means the document has no key constraint; an
// explicitly empty or partially unnamed composite key is invalid.
func compileIndex(def *Definition, known map[string]struct{}) ([]compiledColumn, error) {
	if def.Index == nil {
		return nil, nil
	}
	if len(def.Index) == 0 {
		return nil, definitionErr("", "", fmt.Errorf("%w: composite key list is empty", errors.ErrSchemaCompile))
	}
	if len(def.Index) == 1 && def.Index[0].Name == "" {
		return nil, nil
	}

	cols := make([]compiledColumn, 0, len(def.Index))
	for _, idx := range def.Index {
		if idx.Name == "" {
			return nil, definitionErr("", "", fmt.Errorf("%w: composite key components must be named", errors.ErrSchemaCompile))
		}
		if _, dup := known[idx.Name]; dup {
			return nil, definitionErr(idx.Name, "", fmt.Errorf("%w: key column shadows a declared column", errors.ErrSchemaCompile))
		}

		dt, err := ParseDType(idx.Dtype)
		if err != nil {
			return nil, definitionErr(idx.Name, "", fmt.Errorf("%w: %q", err, idx.Dtype))
		}

		cols = append(cols, compiledColumn{
			name:      idx.Name,
			dtype:     dt,
			dtypeRule: fmt.Sprintf("dtype('%s')", dt),
			coerce:    def.Coerce,
			isIndex:   true,
		})
	}
	return cols, nil
}

// Load reads, parses, and compiles a schema resource. The returned
// *LoadError distinguishes a missing resource from a malformed document
// from a compile failure; callers treat all three as "validator
// unavailable for this path".
func Load(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newLoadError(path, LoadMissing, err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, newLoadError(path, LoadMalformed, err)
	}

	v, err := Compile(def)
	if err != nil {
		return nil, newLoadError(path, LoadCompile, err)
	}
	return v, nil
}

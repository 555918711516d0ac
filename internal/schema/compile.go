package schema

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// Load compiles the embedded CUE schema document into a Schema.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Load() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compile(v)
}

// MustLoad is Load for callers that treat a broken embedded schema as a
// programming error (the CLI entry point, tests).
func MustLoad() *Schema {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

func compile(v cue.Value) (*Schema, error) {
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, fmt.Errorf("compile schema: no tables declared")
	}

	s := &Schema{Tables: make(map[string]*Table)}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("compile schema: iterate tables: %w", err)
	}
	for iter.Next() {
		name := iter.Selector().String()
		tbl, err := compileTable(name, iter.Value())
		if err != nil {
			return nil, err
		}
		s.Tables[name] = tbl
	}

	// Reference targets must exist.
	for _, tbl := range s.Tables {
		for _, col := range tbl.Columns {
			if col.Ref != "" && s.Tables[col.Ref] == nil {
				return nil, fmt.Errorf("table %s column %s references unknown table %s",
					tbl.Name, col.Name, col.Ref)
			}
		}
	}

	return s, nil
}

func compileTable(name string, v cue.Value) (*Table, error) {
	tbl := &Table{Name: name, Columns: make(map[string]*Column)}

	if rootVal := v.LookupPath(cue.ParsePath("isRoot")); rootVal.Exists() {
		isRoot, err := rootVal.Bool()
		if err != nil {
			return nil, fmt.Errorf("table %s: isRoot: %w", name, err)
		}
		tbl.IsRoot = isRoot
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, fmt.Errorf("table %s: columns are required", name)
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("table %s: iterate columns: %w", name, err)
	}
	for iter.Next() {
		col, err := compileColumn(name, iter.Selector().String(), iter.Value())
		if err != nil {
			return nil, err
		}
		tbl.Columns[col.Name] = col
	}

	lookupVal := v.LookupPath(cue.ParsePath("lookup"))
	if lookupVal.Exists() {
		list, err := lookupVal.List()
		if err != nil {
			return nil, fmt.Errorf("table %s: lookup: %w", name, err)
		}
		for list.Next() {
			lk, err := compileLookup(name, list.Value())
			if err != nil {
				return nil, err
			}
			if tbl.Column(lk.Column) == nil {
				return nil, fmt.Errorf("table %s: lookup names unknown column %s", name, lk.Column)
			}
			tbl.Lookups = append(tbl.Lookups, lk)
		}
	}

	return tbl, nil
}

func compileColumn(table, name string, v cue.Value) (*Column, error) {
	col := &Column{Name: name}

	typVal := v.LookupPath(cue.ParsePath("type"))
	typ, err := typVal.String()
	if err != nil {
		return nil, fmt.Errorf("table %s column %s: type: %w", table, name, err)
	}
	col.Type = AtomicType(typ)

	if setVal := v.LookupPath(cue.ParsePath("set")); setVal.Exists() {
		isSet, err := setVal.Bool()
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: set: %w", table, name, err)
		}
		col.Set = isSet
	}
	if refVal := v.LookupPath(cue.ParsePath("ref")); refVal.Exists() {
		ref, err := refVal.String()
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: ref: %w", table, name, err)
		}
		col.Ref = ref
		col.RefType = RefStrong
	}
	if rtVal := v.LookupPath(cue.ParsePath("refType")); rtVal.Exists() {
		rt, err := rtVal.String()
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: refType: %w", table, name, err)
		}
		col.RefType = RefType(rt)
	}
	if col.RefType != RefNone && col.Ref == "" {
		return nil, fmt.Errorf("table %s column %s: refType without ref", table, name)
	}

	return col, nil
}

func compileLookup(table string, v cue.Value) (Lookup, error) {
	var lk Lookup

	colVal := v.LookupPath(cue.ParsePath("column"))
	col, err := colVal.String()
	if err != nil {
		return lk, fmt.Errorf("table %s: lookup column: %w", table, err)
	}
	lk.Column = col

	if fcVal := v.LookupPath(cue.ParsePath("filterColumn")); fcVal.Exists() {
		if lk.FilterColumn, err = fcVal.String(); err != nil {
			return lk, fmt.Errorf("table %s: lookup filterColumn: %w", table, err)
		}
	}
	if fvVal := v.LookupPath(cue.ParsePath("filterValue")); fvVal.Exists() {
		if lk.FilterValue, err = fvVal.String(); err != nil {
			return lk, fmt.Errorf("table %s: lookup filterValue: %w", table, err)
		}
	}
	if viaVal := v.LookupPath(cue.ParsePath("via")); viaVal.Exists() {
		if lk.Via, err = viaVal.String(); err != nil {
			return lk, fmt.Errorf("table %s: lookup via: %w", table, err)
		}
	}

	return lk, nil
}

// ColumnNames returns the table's column names sorted for stable output.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

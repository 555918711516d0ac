package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fabricdb/fabctl/internal/schema"
)

// Row is one record of one table. Field values are held in normalized Go
// form per the column type:
//
//	string  -> string
//	integer -> int64
//	boolean -> bool
//	map     -> map[string]string
//	set     -> []string, sorted
//
// Reference columns hold UUID strings (a set of them when the column is a
// set); an empty string means no reference.
type Row struct {
	Table  string
	UUID   string
	Fields map[string]any
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		switch val := v.(type) {
		case []string:
			cp := make([]string, len(val))
			copy(cp, val)
			fields[k] = cp
		case map[string]string:
			cp := make(map[string]string, len(val))
			for mk, mv := range val {
				cp[mk] = mv
			}
			fields[k] = cp
		default:
			fields[k] = v
		}
	}
	return &Row{Table: r.Table, UUID: r.UUID, Fields: fields}
}

// ZeroFields returns a field map with every column at its zero value.
func ZeroFields(tbl *schema.Table) map[string]any {
	fields := make(map[string]any, len(tbl.Columns))
	for name, col := range tbl.Columns {
		fields[name] = ZeroValue(col)
	}
	return fields
}

// ZeroValue returns the zero value for a column.
func ZeroValue(col *schema.Column) any {
	if col.Set {
		return []string{}
	}
	switch col.Type {
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeBoolean:
		return false
	case schema.TypeMap:
		return map[string]string{}
	default:
		return ""
	}
}

// ValueEqual compares two normalized column values. Sets are kept sorted,
// so slice comparison is positional.
func ValueEqual(a, b any) bool {
	switch av := a.(type) {
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case map[string]string:
		bv, ok := b.(map[string]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if bv[k] != v {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// NormalizeSet sorts and deduplicates a set value in place.
func NormalizeSet(vals []string) []string {
	sort.Strings(vals)
	out := vals[:0]
	for i, v := range vals {
		if i > 0 && vals[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

func encodeFields(fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(data), nil
}

// decodeFields parses stored JSON back into normalized form, using the
// table schema to recover integer and set types.
func decodeFields(tbl *schema.Table, data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}

	fields := ZeroFields(tbl)
	for name, col := range tbl.Columns {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		norm, err := normalizeValue(col, v)
		if err != nil {
			return nil, fmt.Errorf("decode row: column %s: %w", name, err)
		}
		fields[name] = norm
	}
	return fields, nil
}

func normalizeValue(col *schema.Column, v any) (any, error) {
	if col.Set {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected set, got %T", v)
		}
		vals := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			vals = append(vals, s)
		}
		return NormalizeSet(vals), nil
	}

	switch col.Type {
	case schema.TypeInteger:
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		n, err := num.Int64()
		if err != nil {
			return nil, err
		}
		return n, nil
	case schema.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case schema.TypeMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", v)
		}
		out := make(map[string]string, len(m))
		for k, mv := range m {
			s, ok := mv.(string)
			if !ok {
				return nil, fmt.Errorf("expected string value for key %q, got %T", k, mv)
			}
			out[k] = s
		}
		return out, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}
}

package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/schema"
)

// columnRef is a parsed COLUMN[:KEY] reference.
type columnRef struct {
	Column *schema.Column
	Key    string // non-empty only for map columns
}

func parseColumnRef(tbl *schema.Table, spec string) (columnRef, error) {
	name, key := spec, ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		name, key = spec[:i], spec[i+1:]
	}
	col := tbl.Column(name)
	if col == nil {
		return columnRef{}, fmt.Errorf("table %s has no column %q", tbl.Name, name)
	}
	if key != "" && col.Type != schema.TypeMap {
		return columnRef{}, fmt.Errorf("cannot index column %q with a key: not a map", name)
	}
	return columnRef{Column: col, Key: key}, nil
}

// parseValue converts a user-supplied string to a column's normalized value.
// Set columns take comma-separated elements ("" or "[]" for the empty set);
// map columns take comma-separated KEY=VALUE entries ("{}" for the empty
// map). Reference columns accept @symbols and record identifiers.
func parseValue(ctx *ctl.Context, col *schema.Column, raw string) (any, error) {
	if col.Set {
		if raw == "" || raw == "[]" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		vals := make([]string, 0, len(parts))
		for _, part := range parts {
			v, err := parseAtom(ctx, col, strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			vals = append(vals, v.(string))
		}
		return db.NormalizeSet(vals), nil
	}

	if col.Type == schema.TypeMap {
		if raw == "" || raw == "{}" {
			return map[string]string{}, nil
		}
		m := make(map[string]string)
		for _, part := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				return nil, fmt.Errorf("column %s: map entry %q is not KEY=VALUE", col.Name, part)
			}
			m[k] = v
		}
		return m, nil
	}

	return parseAtom(ctx, col, raw)
}

// parseAtom converts a single scalar. For reference columns the result is a
// row UUID, either resolved through the symbol table (@name, recording the
// strong/weak reference) or by record lookup.
func parseAtom(ctx *ctl.Context, col *schema.Column, raw string) (any, error) {
	if col.IsRef() {
		if name, ok := strings.CutPrefix(raw, "@"); ok {
			return ctx.Symtab.Reference(name, col.RefType == schema.RefStrong), nil
		}
		row, err := ctx.LookupRow(col.Ref, raw)
		if err != nil {
			return nil, err
		}
		return row.UUID, nil
	}

	switch col.Type {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not an integer", col.Name, raw)
		}
		return n, nil
	case schema.TypeBoolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("column %s: %q is not true or false", col.Name, raw)
		}
	default:
		return raw, nil
	}
}

// formatValue renders a normalized column value for display.
func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]string, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, k+"="+val[k])
		}
		return "{" + strings.Join(entries, ", ") + "}"
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// symbolName strips the optional @ prefix from an --id value.
func symbolName(id string) string {
	return strings.TrimPrefix(id, "@")
}

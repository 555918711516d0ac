package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/output"
	"github.com/fabricdb/fabctl/internal/schema"
)

func lookupTable(ctx *ctl.Context, name string) (*schema.Table, error) {
	tbl := ctx.Schema.Table(name)
	if tbl == nil {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return tbl, nil
}

// lookupRecord resolves a record identifier, honoring the singleton "."
// shorthand for single-row tables.
func lookupRecord(ctx *ctl.Context, tbl *schema.Table, ident string) (*db.Row, error) {
	if ident == "." {
		return ctx.LookupSingleton(tbl.Name)
	}
	return ctx.LookupRow(tbl.Name, ident)
}

func runCreate(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if idOpt, ok := ctx.Cmd.Opt("id"); ok {
		id, err = ctx.Symtab.Create(symbolName(*idOpt))
		if err != nil {
			return err
		}
	}

	row, err := ctx.Txn.Insert(tbl.Name, id)
	if err != nil {
		return err
	}
	for _, arg := range ctx.Cmd.Args[1:] {
		if err := applyAssignment(ctx, tbl, row, arg); err != nil {
			return err
		}
	}

	ctx.Cmd.Meta = id
	return nil
}

// postCreate reports the created row's UUID after the commit.
func postCreate(ctx *ctl.Context) error {
	if id, ok := ctx.Cmd.Meta.(string); ok {
		ctx.Outf("%s\n", id)
	}
	return nil
}

func runDestroy(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	for _, ident := range ctx.Cmd.Args[1:] {
		row, err := lookupRecord(ctx, tbl, ident)
		if err != nil {
			if ctx.Cmd.HasOpt("if-exists") && isLookup(err) {
				continue
			}
			return err
		}
		ctx.Txn.Delete(tbl.Name, row.UUID)
	}
	return nil
}

func runSet(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		if ctx.Cmd.HasOpt("if-exists") && isLookup(err) {
			return nil
		}
		return err
	}
	mut := ctx.Txn.Modify(tbl.Name, row.UUID)
	for _, arg := range ctx.Cmd.Args[2:] {
		if err := applyAssignment(ctx, tbl, mut, arg); err != nil {
			return err
		}
	}
	return nil
}

// applyAssignment handles one COLUMN[:KEY]=VALUE argument against a
// mutable row.
func applyAssignment(ctx *ctl.Context, tbl *schema.Table, row *db.Row, arg string) error {
	spec, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("%q is not COLUMN=VALUE", arg)
	}
	ref, err := parseColumnRef(tbl, spec)
	if err != nil {
		return err
	}
	if ref.Key != "" {
		m := mapCopy(row.Fields[ref.Column.Name])
		m[ref.Key] = raw
		row.Fields[ref.Column.Name] = m
		return nil
	}
	v, err := parseValue(ctx, ref.Column, raw)
	if err != nil {
		return err
	}
	row.Fields[ref.Column.Name] = v
	return nil
}

func runAdd(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		return err
	}
	ref, err := parseColumnRef(tbl, ctx.Cmd.Args[2])
	if err != nil {
		return err
	}
	mut := ctx.Txn.Modify(tbl.Name, row.UUID)

	switch {
	case ref.Column.Set:
		vals, _ := mut.Fields[ref.Column.Name].([]string)
		for _, arg := range ctx.Cmd.Args[3:] {
			v, err := parseAtom(ctx, ref.Column, arg)
			if err != nil {
				return err
			}
			vals = append(vals, v.(string))
		}
		mut.Fields[ref.Column.Name] = db.NormalizeSet(vals)
	case ref.Column.Type == schema.TypeMap:
		m := mapCopy(mut.Fields[ref.Column.Name])
		for _, arg := range ctx.Cmd.Args[3:] {
			k, v, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("%q is not KEY=VALUE", arg)
			}
			m[k] = v
		}
		mut.Fields[ref.Column.Name] = m
	default:
		return fmt.Errorf("cannot add to scalar column %q", ref.Column.Name)
	}
	return nil
}

func runRemove(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		return err
	}
	ref, err := parseColumnRef(tbl, ctx.Cmd.Args[2])
	if err != nil {
		return err
	}
	mut := ctx.Txn.Modify(tbl.Name, row.UUID)

	switch {
	case ref.Column.Set:
		drop := make(map[string]bool, len(ctx.Cmd.Args[3:]))
		for _, arg := range ctx.Cmd.Args[3:] {
			v, err := parseAtom(ctx, ref.Column, arg)
			if err != nil {
				return err
			}
			drop[v.(string)] = true
		}
		vals, _ := mut.Fields[ref.Column.Name].([]string)
		kept := make([]string, 0, len(vals))
		for _, v := range vals {
			if !drop[v] {
				kept = append(kept, v)
			}
		}
		mut.Fields[ref.Column.Name] = kept
	case ref.Column.Type == schema.TypeMap:
		m := mapCopy(mut.Fields[ref.Column.Name])
		for _, arg := range ctx.Cmd.Args[3:] {
			k, v, hasValue := strings.Cut(arg, "=")
			if cur, ok := m[k]; ok && (!hasValue || cur == v) {
				delete(m, k)
			}
		}
		mut.Fields[ref.Column.Name] = m
	default:
		return fmt.Errorf("cannot remove from scalar column %q", ref.Column.Name)
	}
	return nil
}

func runClear(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		return err
	}
	mut := ctx.Txn.Modify(tbl.Name, row.UUID)
	for _, spec := range ctx.Cmd.Args[2:] {
		ref, err := parseColumnRef(tbl, spec)
		if err != nil {
			return err
		}
		if ref.Key != "" {
			return fmt.Errorf("clear takes whole columns, not %q", spec)
		}
		mut.Fields[ref.Column.Name] = db.ZeroValue(ref.Column)
	}
	return nil
}

func runGet(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		if ctx.Cmd.HasOpt("if-exists") && isLookup(err) {
			return nil
		}
		return err
	}

	if idOpt, ok := ctx.Cmd.Opt("id"); ok {
		if err := ctx.Symtab.Bind(symbolName(*idOpt), row.UUID); err != nil {
			return err
		}
		// A symbol bound to an existing row is already linked into the
		// database; silence the orphan diagnostics.
		ctx.Symtab.Reference(symbolName(*idOpt), true)
	}

	for _, spec := range ctx.Cmd.Args[2:] {
		ref, err := parseColumnRef(tbl, spec)
		if err != nil {
			return err
		}
		v := row.Fields[ref.Column.Name]
		if ref.Key != "" {
			m, _ := v.(map[string]string)
			val, ok := m[ref.Key]
			if !ok {
				if ctx.Cmd.HasOpt("if-exists") {
					continue
				}
				return fmt.Errorf("no key %q in %s record %q column %s",
					ref.Key, tbl.Name, ctx.Cmd.Args[1], ref.Column.Name)
			}
			ctx.Outf("%s\n", val)
			continue
		}
		ctx.Outf("%s\n", formatValue(v))
	}
	return nil
}

func runList(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}

	var rows []*db.Row
	if len(ctx.Cmd.Args) > 1 {
		for _, ident := range ctx.Cmd.Args[1:] {
			row, err := lookupRecord(ctx, tbl, ident)
			if err != nil {
				if ctx.Cmd.HasOpt("if-exists") && isLookup(err) {
					continue
				}
				return err
			}
			rows = append(rows, row)
		}
	} else {
		rows = ctx.Rows(tbl.Name)
	}

	cols := tbl.ColumnNames()
	table := output.NewTable(append([]string{"_uuid"}, cols...)...)
	table.Title = tbl.Name
	for _, row := range rows {
		cells := []string{row.UUID}
		for _, col := range cols {
			cells = append(cells, formatValue(row.Fields[col]))
		}
		table.AddRow(cells...)
	}
	ctx.SetTable(table)
	return nil
}

// runWaitUntil blocks the batch until a row exists and satisfies every
// condition, by asking for a clean retry against the next snapshot. The
// deadline timer is the only bound on how long this can go on.
func runWaitUntil(ctx *ctl.Context) error {
	tbl, err := lookupTable(ctx, ctx.Cmd.Args[0])
	if err != nil {
		return err
	}
	row, err := lookupRecord(ctx, tbl, ctx.Cmd.Args[1])
	if err != nil {
		if isLookup(err) {
			return ctl.ErrTryAgain
		}
		return err
	}

	for _, cond := range ctx.Cmd.Args[2:] {
		ok, err := evalCondition(ctx, tbl, row, cond)
		if err != nil {
			return err
		}
		if !ok {
			return ctl.ErrTryAgain
		}
	}
	return nil
}

// evalCondition checks one COLUMN[:KEY]=VALUE or COLUMN[:KEY]!=VALUE
// condition against a row.
func evalCondition(ctx *ctl.Context, tbl *schema.Table, row *db.Row, cond string) (bool, error) {
	spec, raw, negate := "", "", false
	if i := strings.Index(cond, "!="); i >= 0 {
		spec, raw, negate = cond[:i], cond[i+2:], true
	} else if i := strings.IndexByte(cond, '='); i >= 0 {
		spec, raw = cond[:i], cond[i+1:]
	} else {
		return false, fmt.Errorf("%q is not COLUMN=VALUE or COLUMN!=VALUE", cond)
	}

	ref, err := parseColumnRef(tbl, spec)
	if err != nil {
		return false, err
	}

	var equal bool
	if ref.Key != "" {
		m, _ := row.Fields[ref.Column.Name].(map[string]string)
		v, ok := m[ref.Key]
		equal = ok && v == raw
	} else {
		want, err := parseValue(ctx, ref.Column, raw)
		if err != nil {
			return false, err
		}
		equal = db.ValueEqual(row.Fields[ref.Column.Name], want)
	}
	if negate {
		return !equal, nil
	}
	return equal, nil
}

func isLookup(err error) bool {
	var le *ctl.LookupError
	return errors.As(err, &le)
}

func mapCopy(v any) map[string]string {
	m, _ := v.(map[string]string)
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}

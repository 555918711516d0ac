package ctl

import (
	"errors"
	"fmt"

	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/output"
	"github.com/fabricdb/fabctl/internal/schema"
)

// ErrTryAgain aborts the whole batch without committing so the caller can
// retry against a fresh snapshot. Handlers return it (usually wrapped) when
// they observe state that a concurrent writer may still be changing.
var ErrTryAgain = errors.New("try again")

// LookupError reports a record identifier that resolved to no row.
type LookupError struct {
	Table string
	Ident string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no row %q in table %s", e.Ident, e.Table)
}

// Context is the per-attempt execution context handed to every handler. It
// replaces process-global state: everything a command may touch hangs off
// this one value, acquired and released per attempt on every exit path.
type Context struct {
	Schema   *schema.Schema
	Snapshot *db.Snapshot

	// Txn is nil during the prerequisite phase and for every phase of a
	// batch that never opens a transaction.
	Txn *db.Txn

	Symtab *Symtab

	// Cmd is the command currently executing; its Output buffer and Table
	// are the only user-visible sinks a handler may write to, so a retry
	// can discard them wholesale.
	Cmd *BoundCommand

	// ForceWait is set by commands (sync) that require a convergence wait
	// even when the batch changes nothing.
	ForceWait bool
}

// Outf appends formatted text to the current command's output buffer.
func (c *Context) Outf(format string, args ...any) {
	fmt.Fprintf(&c.Cmd.Output, format, args...)
}

// SetTable attaches tabular output to the current command.
func (c *Context) SetTable(t *output.Table) {
	c.Cmd.Table = t
}

// Get returns the context's view of a row: through the transaction when one
// is open, else straight from the snapshot.
func (c *Context) Get(table, id string) *db.Row {
	if c.Txn != nil {
		return c.Txn.Get(table, id)
	}
	return c.Snapshot.Get(table, id)
}

// Rows returns the context's view of a table, ordered by UUID.
func (c *Context) Rows(table string) []*db.Row {
	if c.Txn != nil {
		return c.Txn.Rows(table)
	}
	return c.Snapshot.Rows(table)
}

// LookupRow resolves a record identifier to a row using the table's lookup
// strategies: a full UUID always matches; otherwise the schema's strategies
// are evaluated in order and the first match wins.
func (c *Context) LookupRow(table, ident string) (*db.Row, error) {
	tbl := c.Schema.Table(table)
	if tbl == nil {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	if row := c.lookupUUID(table, ident); row != nil {
		return row, nil
	}
	for _, lk := range tbl.Lookups {
		if row := c.lookupBy(tbl, lk, ident); row != nil {
			return row, nil
		}
	}
	return nil, &LookupError{Table: table, Ident: ident}
}

// LookupSingleton resolves the conventional "." identifier to the only row
// of a single-row table.
func (c *Context) LookupSingleton(table string) (*db.Row, error) {
	rows := c.Rows(table)
	if len(rows) == 0 {
		return nil, &LookupError{Table: table, Ident: "."}
	}
	return rows[0], nil
}

func (c *Context) lookupUUID(table, ident string) *db.Row {
	if !looksLikeUUID(ident) {
		return nil
	}
	return c.Get(table, ident)
}

func (c *Context) lookupBy(tbl *schema.Table, lk schema.Lookup, ident string) *db.Row {
	for _, row := range c.Rows(tbl.Name) {
		if lk.FilterColumn != "" {
			if v, _ := row.Fields[lk.FilterColumn].(string); v != lk.FilterValue {
				continue
			}
		}
		v, _ := row.Fields[lk.Column].(string)
		if v != ident {
			continue
		}
		if lk.Via == "" {
			return row
		}
		via := tbl.Column(lk.Via)
		if via == nil || !via.IsRef() {
			return nil
		}
		ref, _ := row.Fields[lk.Via].(string)
		if ref == "" {
			return nil
		}
		return c.Get(via.Ref, ref)
	}
	return nil
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			switch {
			case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			default:
				return false
			}
		}
	}
	return true
}

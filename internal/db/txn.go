package db

import (
	"context"
	"fmt"

	"github.com/fabricdb/fabctl/internal/schema"
)

// TxnStatus is the outcome of a commit attempt.
type TxnStatus int

const (
	// TxnUncommitted: Commit has not been called.
	TxnUncommitted TxnStatus = iota

	// TxnUnchanged: the transaction proposed no effective change; nothing
	// was written and the sequence number did not move.
	TxnUnchanged

	// TxnSuccess: the transaction committed (or validated, under dry-run).
	TxnSuccess

	// TxnTryAgain: the replica moved past the transaction's base snapshot;
	// the caller must refresh and rebuild the transaction.
	TxnTryAgain

	// TxnError: the commit failed for a reason retrying will not fix.
	TxnError
)

func (s TxnStatus) String() string {
	switch s {
	case TxnUncommitted:
		return "uncommitted"
	case TxnUnchanged:
		return "unchanged"
	case TxnSuccess:
		return "success"
	case TxnTryAgain:
		return "try again"
	case TxnError:
		return "error"
	default:
		return fmt.Sprintf("TxnStatus(%d)", int(s))
	}
}

// Txn collects proposed mutations against one snapshot. It is owned by a
// single attempt and never survives it: on retry the caller discards the
// transaction and derives a new one from a refreshed snapshot.
type Txn struct {
	snap    *Snapshot
	dryRun  bool
	comment string

	inserts map[string]*Row   // uuid -> new row
	updates map[string]*Row   // uuid -> copy-on-write row
	deletes map[string]string // uuid -> table

	incTable  string
	incRow    string // empty: first row of incTable at commit time
	incColumn string
	incForce  bool
	incValue  int64

	status TxnStatus
}

// SetDryRun makes Commit validate and report without writing anything.
func (t *Txn) SetDryRun() { t.dryRun = true }

// AddComment attaches a human-readable description of the batch. Recorded
// for diagnostics only.
func (t *Txn) AddComment(comment string) { t.comment = comment }

// Increment asks the commit to bump an integer column by one. With force
// false the increment only happens when the transaction otherwise changes
// data; with force true it happens regardless, making an otherwise empty
// transaction commit as a change.
//
// rowID may be empty, meaning the first row of the table at commit time.
func (t *Txn) Increment(table, rowID, column string, force bool) {
	t.incTable = table
	t.incRow = rowID
	t.incColumn = column
	t.incForce = force
}

// IncrementNewValue returns the value the incremented column reached.
// Valid only after Commit returned TxnSuccess with an increment configured.
func (t *Txn) IncrementNewValue() int64 { return t.incValue }

// Insert registers a new row with the given UUID. Unset columns take their
// zero values.
func (t *Txn) Insert(table, id string) (*Row, error) {
	tbl := t.snap.store.schema.Table(table)
	if tbl == nil {
		return nil, fmt.Errorf("insert: unknown table %s", table)
	}
	if t.Get(table, id) != nil {
		return nil, fmt.Errorf("insert: table %s already has row %s", table, id)
	}
	row := &Row{Table: table, UUID: id, Fields: ZeroFields(tbl)}
	t.inserts[id] = row
	return row, nil
}

// Modify returns a mutable view of a row. Snapshot rows are cloned on first
// modification; pending inserts are returned directly. Returns nil when the
// row does not exist.
func (t *Txn) Modify(table, id string) *Row {
	if _, gone := t.deletes[id]; gone {
		return nil
	}
	if row, ok := t.inserts[id]; ok {
		return row
	}
	if row, ok := t.updates[id]; ok {
		return row
	}
	base := t.snap.Get(table, id)
	if base == nil {
		return nil
	}
	row := base.Clone()
	t.updates[id] = row
	return row
}

// Get returns the transaction's view of a row: pending inserts and updates
// shadow the snapshot, deletes hide it. Returns nil when absent. The result
// must not be mutated; use Modify for that.
func (t *Txn) Get(table, id string) *Row {
	if _, gone := t.deletes[id]; gone {
		return nil
	}
	if row, ok := t.inserts[id]; ok {
		return row
	}
	if row, ok := t.updates[id]; ok {
		return row
	}
	return t.snap.Get(table, id)
}

// Rows returns the transaction's view of a table, ordered by UUID.
func (t *Txn) Rows(table string) []*Row {
	seen := make(map[string]bool)
	var out []*Row
	for _, row := range t.snap.Rows(table) {
		if _, gone := t.deletes[row.UUID]; gone {
			continue
		}
		if upd, ok := t.updates[row.UUID]; ok {
			row = upd
		}
		out = append(out, row)
		seen[row.UUID] = true
	}
	for _, row := range t.inserts {
		if row.Table == table && !seen[row.UUID] {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out
}

// Delete removes a row. Deleting a pending insert simply drops it.
func (t *Txn) Delete(table, id string) {
	if _, ok := t.inserts[id]; ok {
		delete(t.inserts, id)
		return
	}
	delete(t.updates, id)
	t.deletes[id] = table
}

// Commit applies the transaction. The commit succeeds only if the replica
// sequence number still matches the base snapshot; otherwise TxnTryAgain is
// returned and nothing is written. All mutations, reference scrubbing, and
// garbage collection of unreferenced non-root rows are applied atomically in
// one SQLite transaction together with the sequence number bump.
func (t *Txn) Commit(ctx context.Context) (TxnStatus, error) {
	if t.status != TxnUncommitted {
		return t.status, fmt.Errorf("commit: transaction already %s", t.status)
	}

	final := t.finalState()
	t.collectGarbage(final)
	changed := t.diff(final)

	if len(changed.upserts) == 0 && len(changed.removals) == 0 && !t.incForce {
		t.status = TxnUnchanged
		return t.status, nil
	}

	if t.incColumn != "" {
		if err := t.applyIncrement(final); err != nil {
			t.status = TxnError
			return t.status, err
		}
		changed = t.diff(final)
	}

	sqlTx, err := t.snap.store.db.BeginTx(ctx, nil)
	if err != nil {
		t.status = TxnError
		return t.status, fmt.Errorf("commit: begin: %w", err)
	}
	defer sqlTx.Rollback()

	var seqno int64
	if err := sqlTx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'seqno'`).Scan(&seqno); err != nil {
		t.status = TxnError
		return t.status, fmt.Errorf("commit: read seqno: %w", err)
	}
	if seqno != t.snap.seqno {
		t.status = TxnTryAgain
		return t.status, nil
	}

	if t.dryRun {
		t.status = TxnSuccess
		return t.status, nil
	}

	for _, row := range changed.upserts {
		data, err := encodeFields(row.Fields)
		if err != nil {
			t.status = TxnError
			return t.status, fmt.Errorf("commit: %w", err)
		}
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO rows (tbl, id, data) VALUES (?, ?, ?)
			ON CONFLICT (tbl, id) DO UPDATE SET data = excluded.data
		`, row.Table, row.UUID, data)
		if err != nil {
			t.status = TxnError
			return t.status, fmt.Errorf("commit: write row %s: %w", row.UUID, err)
		}
	}
	for id, table := range changed.removals {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM rows WHERE tbl = ? AND id = ?`, table, id); err != nil {
			t.status = TxnError
			return t.status, fmt.Errorf("commit: delete row %s: %w", id, err)
		}
	}
	if _, err := sqlTx.ExecContext(ctx, `UPDATE meta SET value = value + 1 WHERE key = 'seqno'`); err != nil {
		t.status = TxnError
		return t.status, fmt.Errorf("commit: bump seqno: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		t.status = TxnError
		return t.status, fmt.Errorf("commit: %w", err)
	}
	t.status = TxnSuccess
	return t.status, nil
}

// finalState materializes the post-transaction row set in memory:
// snapshot rows plus inserts and updates, minus deletes.
func (t *Txn) finalState() map[string]map[string]*Row {
	final := make(map[string]map[string]*Row, len(t.snap.tables))
	for table, rows := range t.snap.tables {
		final[table] = make(map[string]*Row, len(rows))
		for id, row := range rows {
			if _, gone := t.deletes[id]; gone {
				continue
			}
			if upd, ok := t.updates[id]; ok {
				row = upd
			}
			final[table][id] = row
		}
	}
	for id, row := range t.inserts {
		if final[row.Table] == nil {
			final[row.Table] = make(map[string]*Row)
		}
		final[row.Table][id] = row
	}
	return final
}

// collectGarbage scrubs references to rows absent from the final state and
// removes non-root rows that no strong reference reaches, iterating until
// stable (collecting a row can orphan the rows it referenced).
func (t *Txn) collectGarbage(final map[string]map[string]*Row) {
	sch := t.snap.store.schema
	for {
		t.scrubDanglingRefs(final)

		strong := make(map[string]bool)
		for table, rows := range final {
			tbl := sch.Table(table)
			if tbl == nil {
				continue
			}
			for _, row := range rows {
				for name, col := range tbl.Columns {
					if col.RefType != schema.RefStrong {
						continue
					}
					for _, id := range refValues(row.Fields[name], col) {
						strong[id] = true
					}
				}
			}
		}

		removed := false
		for table, rows := range final {
			tbl := sch.Table(table)
			if tbl == nil || tbl.IsRoot {
				continue
			}
			for id := range rows {
				if !strong[id] {
					delete(rows, id)
					removed = true
				}
			}
		}
		if !removed {
			return
		}
	}
}

// scrubDanglingRefs drops references to rows absent from the final state.
// Rows still shared with the snapshot are cloned before they are touched;
// the snapshot itself must never change under a transaction.
func (t *Txn) scrubDanglingRefs(final map[string]map[string]*Row) {
	sch := t.snap.store.schema
	exists := func(table, id string) bool {
		return final[table][id] != nil
	}
	for table, rows := range final {
		tbl := sch.Table(table)
		if tbl == nil {
			continue
		}
		for id, row := range rows {
			for name, col := range tbl.Columns {
				if !col.IsRef() {
					continue
				}
				if col.Set {
					vals, _ := row.Fields[name].([]string)
					kept := make([]string, 0, len(vals))
					for _, ref := range vals {
						if exists(col.Ref, ref) {
							kept = append(kept, ref)
						}
					}
					if len(kept) != len(vals) {
						row = t.detach(final, table, id, row)
						row.Fields[name] = kept
					}
				} else {
					ref, _ := row.Fields[name].(string)
					if ref != "" && !exists(col.Ref, ref) {
						row = t.detach(final, table, id, row)
						row.Fields[name] = ""
					}
				}
			}
		}
	}
}

// detach ensures the row in the final state is not the snapshot's own copy.
func (t *Txn) detach(final map[string]map[string]*Row, table, id string, row *Row) *Row {
	if t.snap.Get(table, id) != row {
		return row
	}
	clone := row.Clone()
	final[table][id] = clone
	return clone
}

func refValues(v any, col *schema.Column) []string {
	if col.Set {
		vals, _ := v.([]string)
		return vals
	}
	id, _ := v.(string)
	if id == "" {
		return nil
	}
	return []string{id}
}

type txnDiff struct {
	upserts  []*Row
	removals map[string]string // uuid -> table
}

// diff compares the final state against the base snapshot. Updates that end
// up equal to the snapshot value are not changes.
func (t *Txn) diff(final map[string]map[string]*Row) txnDiff {
	d := txnDiff{removals: make(map[string]string)}
	for table, rows := range final {
		for id, row := range rows {
			base := t.snap.Get(table, id)
			if base == nil || !fieldsEqual(base.Fields, row.Fields) {
				d.upserts = append(d.upserts, row)
			}
		}
	}
	for table, rows := range t.snap.tables {
		for id := range rows {
			if final[table][id] == nil {
				d.removals[id] = table
			}
		}
	}
	sortRows(d.upserts)
	return d
}

func (t *Txn) applyIncrement(final map[string]map[string]*Row) error {
	rows := final[t.incTable]
	var target *Row
	if t.incRow != "" {
		target = rows[t.incRow]
	} else {
		for _, row := range sortedRows(rows) {
			target = row
			break
		}
	}
	if target == nil {
		return fmt.Errorf("commit: increment: no row in table %s", t.incTable)
	}
	cur, _ := target.Fields[t.incColumn].(int64)
	t.incValue = cur + 1
	// The target may still be an unmodified snapshot row; clone before
	// writing so the snapshot itself is never mutated.
	if base := t.snap.Get(t.incTable, target.UUID); base == target {
		target = target.Clone()
		final[t.incTable][target.UUID] = target
	}
	target.Fields[t.incColumn] = t.incValue
	return nil
}

func fieldsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValueEqual(av, bv) {
			return false
		}
	}
	return true
}

func sortRows(rows []*Row) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && (rows[j].Table < rows[j-1].Table ||
			(rows[j].Table == rows[j-1].Table && rows[j].UUID < rows[j-1].UUID)); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func sortedRows(rows map[string]*Row) []*Row {
	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sortRows(out)
	return out
}

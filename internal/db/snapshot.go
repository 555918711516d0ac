package db

import (
	"context"
	"fmt"
	"sort"
)

// Snapshot is an in-memory mirror of the replica's rows at one sequence
// number. It is shared read-only by every command in an attempt; mutation
// goes through a Transaction.
type Snapshot struct {
	store *Store

	seqno  int64
	loaded bool
	tables map[string]map[string]*Row
}

// Refresh reloads the snapshot when the replica sequence number has moved
// (and on first use). A no-op when the replica is unchanged.
func (s *Snapshot) Refresh(ctx context.Context) error {
	seqno, err := s.store.Seqno(ctx)
	if err != nil {
		return err
	}
	if s.loaded && seqno == s.seqno {
		return nil
	}
	return s.load(ctx, seqno)
}

func (s *Snapshot) load(ctx context.Context, seqno int64) error {
	rows, err := s.store.db.QueryContext(ctx, `SELECT tbl, id, data FROM rows`)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]map[string]*Row)
	for rows.Next() {
		var tbl, id, data string
		if err := rows.Scan(&tbl, &id, &data); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		tableSchema := s.store.schema.Table(tbl)
		if tableSchema == nil {
			// Rows of tables this client's schema does not know are
			// ignored, not an error.
			continue
		}
		fields, err := decodeFields(tableSchema, data)
		if err != nil {
			return fmt.Errorf("load snapshot: table %s row %s: %w", tbl, id, err)
		}
		if tables[tbl] == nil {
			tables[tbl] = make(map[string]*Row)
		}
		tables[tbl][id] = &Row{Table: tbl, UUID: id, Fields: fields}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.tables = tables
	s.seqno = seqno
	s.loaded = true
	return nil
}

// Seqno returns the sequence number of the mirrored state.
func (s *Snapshot) Seqno() int64 { return s.seqno }

// Loaded reports whether the snapshot has ever been populated. A warm
// snapshot is due for an immediate attempt even though its sequence number
// has not moved since the caller last looked.
func (s *Snapshot) Loaded() bool { return s.loaded }

// Alive reports whether the replica is still reachable.
func (s *Snapshot) Alive(ctx context.Context) bool { return s.store.Alive(ctx) }

// Store returns the store this snapshot mirrors.
func (s *Snapshot) Store() *Store { return s.store }

// Get returns the row with the given UUID, or nil.
func (s *Snapshot) Get(table, id string) *Row {
	return s.tables[table][id]
}

// Rows returns the table's rows ordered by UUID for deterministic iteration.
func (s *Snapshot) Rows(table string) []*Row {
	m := s.tables[table]
	out := make([]*Row, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Begin opens a transaction against this snapshot.
func (s *Snapshot) Begin() *Txn {
	return &Txn{
		snap:    s,
		inserts: make(map[string]*Row),
		updates: make(map[string]*Row),
		deletes: make(map[string]string),
		status:  TxnUncommitted,
	}
}

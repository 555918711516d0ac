package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/schema"
)

func openStore(t *testing.T, path string) *db.Store {
	t.Helper()
	st, err := db.Open(path, schema.MustLoad())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "replica.db"))
}

// testSyntaxes is a minimal command set exercising the executor phases.
func testSyntaxes() []ctl.Syntax {
	return []ctl.Syntax{
		{Name: "noop", MinArgs: 0, MaxArgs: 0, Mode: ctl.RO,
			Run: func(*ctl.Context) error { return nil }},
		{Name: "say", MinArgs: 1, MaxArgs: 1, Mode: ctl.RO,
			Run: func(c *ctl.Context) error {
				c.Outf("%s\n", c.Cmd.Args[0])
				return nil
			}},
		{Name: "mkswitch", MinArgs: 1, MaxArgs: 1, Mode: ctl.RW,
			Run: func(c *ctl.Context) error {
				row, err := c.Txn.Insert("Switch", uuid.NewString())
				if err != nil {
					return err
				}
				row.Fields["name"] = c.Cmd.Args[0]
				c.Outf("created %s\n", c.Cmd.Args[0])
				return nil
			}},
		{Name: "needswitch", MinArgs: 1, MaxArgs: 1, Mode: ctl.RO,
			Run: func(c *ctl.Context) error {
				if _, err := c.LookupRow("Switch", c.Cmd.Args[0]); err != nil {
					return ctl.ErrTryAgain
				}
				return nil
			}},
		{Name: "refsym", MinArgs: 1, MaxArgs: 1, Mode: ctl.RW,
			Run: func(c *ctl.Context) error {
				c.Symtab.Reference(c.Cmd.Args[0], true)
				return nil
			}},
		{Name: "force-sync", MinArgs: 0, MaxArgs: 0, Mode: ctl.RO,
			Prereq: func(c *ctl.Context) error {
				c.ForceWait = true
				return nil
			},
			Run: func(*ctl.Context) error { return nil }},
	}
}

func parseBatch(t *testing.T, args ...string) []*ctl.BoundCommand {
	t.Helper()
	reg, err := ctl.NewRegistry(testSyntaxes())
	require.NoError(t, err)
	cmds, err := ctl.ParseCommands(reg, args, nil)
	require.NoError(t, err)
	return cmds
}

func runBatch(t *testing.T, st *db.Store, opts Options, engineOpts []EngineOption, args ...string) (string, *Engine, error) {
	t.Helper()
	snap := st.NewSnapshot()
	var out bytes.Buffer
	eng := New(snap, opts, &out, engineOpts...)
	err := eng.Run(context.Background(), "test", parseBatch(t, args...))
	return out.String(), eng, err
}

// seedGlobal commits the Global row so later batches start from an existing
// generation counter.
func seedGlobal(t *testing.T, st *db.Store) {
	t.Helper()
	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	txn := snap.Begin()
	_, err := txn.Insert("Global", uuid.NewString())
	require.NoError(t, err)
	status, err := txn.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, db.TxnSuccess, status)
}

// advanceConsumer simulates a downstream consumer: after the delay it keeps
// setting the given Global column until the write sticks.
func advanceConsumer(t *testing.T, path, column string, value int64, delay time.Duration) {
	t.Helper()
	st := openStore(t, path)
	go func() {
		time.Sleep(delay)
		snap := st.NewSnapshot()
		for {
			if err := snap.Refresh(context.Background()); err != nil {
				return
			}
			rows := snap.Rows(GlobalTable)
			if len(rows) == 0 {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			txn := snap.Begin()
			mut := txn.Modify(GlobalTable, rows[0].UUID)
			mut.Fields[column] = value
			status, err := txn.Commit(context.Background())
			if err != nil {
				return
			}
			if status == db.TxnSuccess || status == db.TxnUnchanged {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
}

func TestEngine_CommitsBatchAtomically(t *testing.T) {
	st := newTestStore(t)

	out, eng, err := runBatch(t, st, Options{}, nil,
		"mkswitch", "sw0", "--", "mkswitch", "sw1")
	require.NoError(t, err)
	assert.Equal(t, 1, eng.Attempts())
	assert.Equal(t, "created sw0\ncreated sw1\n", out)

	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	assert.Len(t, snap.Rows("Switch"), 2)
}

func TestEngine_RetriesOnConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	st := openStore(t, path)
	other := openStore(t, path)

	// A rival writer slips in a commit after the engine takes its snapshot
	// on the first attempt.
	hook := func(attempt int) {
		if attempt != 1 {
			return
		}
		snap := other.NewSnapshot()
		require.NoError(t, snap.Refresh(context.Background()))
		txn := snap.Begin()
		row, err := txn.Insert("Switch", uuid.NewString())
		require.NoError(t, err)
		row.Fields["name"] = "rival"
		status, err := txn.Commit(context.Background())
		require.NoError(t, err)
		require.Equal(t, db.TxnSuccess, status)
	}

	_, eng, err := runBatch(t, st, Options{},
		[]EngineOption{WithPollInterval(10 * time.Millisecond), WithAttemptHook(hook)},
		"mkswitch", "sw0")
	require.NoError(t, err)
	assert.Equal(t, 2, eng.Attempts())

	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	assert.Len(t, snap.Rows("Switch"), 2, "both the rival's and the engine's rows must exist")
}

func TestEngine_UnresolvedSymbolIsFatal(t *testing.T) {
	st := newTestStore(t)

	_, _, err := runBatch(t, st, Options{}, nil, "refsym", "nic")
	require.Error(t, err)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, ErrCodeSymbol, engErr.Code)
	assert.EqualError(t, err,
		`row id "nic" is referenced but never created (e.g. with "-- --id=nic create ...")`)

	// Nothing committed, not even the Global row.
	seqno, err := st.Seqno(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seqno)
}

func TestEngine_TimeoutExpired(t *testing.T) {
	st := newTestStore(t)

	_, _, err := runBatch(t, st,
		Options{Timeout: 200 * time.Millisecond},
		[]EngineOption{WithPollInterval(10 * time.Millisecond)},
		"needswitch", "missing")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.EqualError(t, err, "timeout expired")
}

func TestEngine_RetryUntilConditionHolds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	st := openStore(t, path)
	other := openStore(t, path)

	go func() {
		time.Sleep(100 * time.Millisecond)
		snap := other.NewSnapshot()
		if err := snap.Refresh(context.Background()); err != nil {
			return
		}
		txn := snap.Begin()
		row, err := txn.Insert("Switch", uuid.NewString())
		if err != nil {
			return
		}
		row.Fields["name"] = "late"
		txn.Commit(context.Background())
	}()

	_, eng, err := runBatch(t, st,
		Options{Timeout: 5 * time.Second},
		[]EngineOption{WithPollInterval(10 * time.Millisecond)},
		"needswitch", "late")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eng.Attempts(), 2)
}

func TestEngine_ConvergenceWait(t *testing.T) {
	st := newTestStore(t)
	seedGlobal(t, st)
	advanceConsumer(t, st.Path(), ColRelayCfg, 1, 100*time.Millisecond)

	_, _, err := runBatch(t, st,
		Options{Wait: WaitRelay, Timeout: 5 * time.Second},
		[]EngineOption{WithPollInterval(10 * time.Millisecond)},
		"mkswitch", "sw0")
	require.NoError(t, err)

	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	rows := snap.Rows(GlobalTable)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Fields[ColCfg], "commit must bump the generation counter")
}

func TestEngine_UnchangedBatchSkipsConvergence(t *testing.T) {
	st := newTestStore(t)
	seedGlobal(t, st)

	// No consumer is running; if the engine waited this would time out.
	start := time.Now()
	_, _, err := runBatch(t, st,
		Options{Wait: WaitRelay, Timeout: 2 * time.Second},
		[]EngineOption{WithPollInterval(10 * time.Millisecond)},
		"noop")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngine_ForcedWaitCommitsEmptyBatch(t *testing.T) {
	st := newTestStore(t)
	seedGlobal(t, st)
	advanceConsumer(t, st.Path(), ColAgentCfg, 1, 100*time.Millisecond)

	_, _, err := runBatch(t, st,
		Options{Wait: WaitAgents, Timeout: 5 * time.Second},
		[]EngineOption{WithPollInterval(10 * time.Millisecond)},
		"force-sync")
	require.NoError(t, err)

	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	rows := snap.Rows(GlobalTable)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Fields[ColCfg])
}

func TestEngine_DryRunCommitsNothing(t *testing.T) {
	st := newTestStore(t)

	out, _, err := runBatch(t, st, Options{DryRun: true}, nil, "mkswitch", "sw0")
	require.NoError(t, err)
	assert.Equal(t, "created sw0\n", out, "dry run still reports what it would do")

	snap := st.NewSnapshot()
	require.NoError(t, snap.Refresh(context.Background()))
	assert.Empty(t, snap.Rows("Switch"))
	assert.Equal(t, int64(1), snap.Seqno())
}

func TestEngine_OnelineOutput(t *testing.T) {
	st := newTestStore(t)

	out, _, err := runBatch(t, st, Options{Oneline: true}, nil,
		"say", "a", "--", "say", "b")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	out, _, err = runBatch(t, st, Options{Oneline: true}, nil, "say", "x\ny")
	require.NoError(t, err)
	assert.Equal(t, "x\\ny\n", out)
}

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/output"
)

// The Global table carries the generation counters the convergence waiter
// observes: cfg is bumped on commit, relay_cfg and agent_cfg are advanced
// by the downstream consumers as they catch up.
const (
	GlobalTable = "Global"
	ColCfg      = "cfg"
	ColRelayCfg = "relay_cfg"
	ColAgentCfg = "agent_cfg"
)

// defaultPollInterval is how often the main loop re-reads the replica
// sequence number while blocked.
const defaultPollInterval = 100 * time.Millisecond

// Engine executes one parsed batch. It owns the snapshot for the duration
// of a Run and is single-threaded: one logical flow of control refreshes
// the snapshot, runs handlers, and polls for convergence.
type Engine struct {
	snap *db.Snapshot
	opts Options
	out  io.Writer
	poll time.Duration

	attempts int
	hook     func(attempt int)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPollInterval overrides how often the main loop polls the replica.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.poll = d }
}

// WithAttemptHook installs a callback invoked at the start of every
// attempt, after the snapshot refresh. Used by tests to interleave
// concurrent writers deterministically.
func WithAttemptHook(hook func(attempt int)) EngineOption {
	return func(e *Engine) { e.hook = hook }
}

// New creates an engine writing command output to out.
func New(snap *db.Snapshot, opts Options, out io.Writer, engineOpts ...EngineOption) *Engine {
	e := &Engine{snap: snap, opts: opts, out: out, poll: defaultPollInterval}
	for _, opt := range engineOpts {
		opt(e)
	}
	return e
}

// Attempts returns how many executor attempts the last Run made.
func (e *Engine) Attempts() int { return e.attempts }

// Run drives the batch to a terminal outcome. It refreshes the snapshot and
// re-runs the whole batch until an attempt commits, changes nothing, or
// fails fatally. An attempt is only worth making when the sequence number
// has moved since the last one — a failed commit means the replica changed,
// so an identical retry against the same sequence number cannot succeed.
//
// args is a human-readable rendering of the invocation, recorded on the
// transaction for diagnostics.
func (e *Engine) Run(ctx context.Context, args string, cmds []*ctl.BoundCommand) error {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.attempts = 0
	lastSeqno := e.snap.Seqno()
	// A warm snapshot is due immediately; its seqno will not move just
	// because we are about to reuse it.
	ready := e.snap.Loaded()

	for {
		if err := e.snap.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return NewTimeoutError()
			}
			return newConnectionError(err)
		}

		if ready || e.snap.Seqno() != lastSeqno {
			ready = false
			lastSeqno = e.snap.Seqno()
			e.attempts++
			if e.hook != nil {
				e.hook(e.attempts)
			}

			retry, err := e.attempt(ctx, args, cmds)
			if err != nil {
				return err
			}
			if !retry {
				return nil
			}
			slog.Debug("attempt conflicted, retrying", "seqno", lastSeqno, "attempt", e.attempts)
		}

		if e.snap.Seqno() == lastSeqno {
			if err := e.block(ctx); err != nil {
				return err
			}
		}
	}
}

// block waits for the next poll tick or the deadline.
func (e *Engine) block(ctx context.Context) error {
	timer := time.NewTimer(e.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return NewTimeoutError()
	case <-timer.C:
		return nil
	}
}

// attempt makes one pass through the executor state machine:
// prerequisites, run phase, symbol validation, commit, postprocess, output
// emission, convergence wait. retry is true only for clean conflicts; every
// other failure is terminal.
func (e *Engine) attempt(ctx context.Context, args string, cmds []*ctl.BoundCommand) (retry bool, err error) {
	cctx := &ctl.Context{
		Schema:   e.snap.Store().Schema(),
		Snapshot: e.snap,
	}

	// Outputs from a previous attempt must not leak into this one.
	for _, cmd := range cmds {
		cmd.Output.Reset()
		cmd.Table = nil
		cmd.Meta = nil
	}

	// Prerequisite phase: read-only, no transaction.
	for _, cmd := range cmds {
		if cmd.Syntax.Prereq == nil {
			continue
		}
		cctx.Cmd = cmd
		if err := cmd.Syntax.Prereq(cctx); err != nil {
			return false, newCommandError(err)
		}
	}

	txn := e.snap.Begin()
	txn.AddComment("fabctl: " + args)
	if e.opts.DryRun {
		txn.SetDryRun()
	}

	// The Global row is created on demand so a fresh replica can still
	// carry generation counters.
	if len(txn.Rows(GlobalTable)) == 0 {
		if _, err := txn.Insert(GlobalTable, uuid.NewString()); err != nil {
			return false, &Error{Code: ErrCodeTxn, Message: "initialize global row", Err: err}
		}
	}
	if e.opts.Wait != WaitNone {
		txn.Increment(GlobalTable, "", ColCfg, cctx.ForceWait)
	}

	cctx.Txn = txn
	cctx.Symtab = ctl.NewSymtab()

	// Run phase, strictly in batch order.
	for _, cmd := range cmds {
		if cmd.Syntax.Run == nil {
			continue
		}
		cctx.Cmd = cmd
		if err := cmd.Syntax.Run(cctx); err != nil {
			if errors.Is(err, ctl.ErrTryAgain) {
				return true, nil
			}
			return false, newCommandError(err)
		}
	}

	// Unresolved symbols are fatal before commit; orphaned ones only warn.
	warnings, err := cctx.Symtab.Validate()
	if err != nil {
		return false, newSymbolError(err)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	status, err := txn.Commit(ctx)
	switch status {
	case db.TxnTryAgain:
		return true, nil
	case db.TxnUnchanged, db.TxnSuccess:
	default:
		return false, &Error{Code: ErrCodeTxn, Message: "transaction error", Err: err}
	}

	// Postprocess phase: read-only reporting against the committed state.
	for _, cmd := range cmds {
		if cmd.Syntax.Postprocess == nil {
			continue
		}
		cctx.Cmd = cmd
		if err := cmd.Syntax.Postprocess(cctx); err != nil {
			return false, newCommandError(err)
		}
	}

	if err := e.emit(cmds); err != nil {
		return false, &Error{Code: ErrCodeTxn, Message: "write output", Err: err}
	}

	// An unchanged commit has nothing for downstream consumers to absorb.
	if e.opts.Wait != WaitNone && status == db.TxnSuccess && !e.opts.DryRun {
		if err := e.converge(ctx, txn.IncrementNewValue()); err != nil {
			return false, err
		}
	}

	return false, nil
}

// emit writes captured outputs in command order.
func (e *Engine) emit(cmds []*ctl.BoundCommand) error {
	for _, cmd := range cmds {
		if cmd.Table != nil {
			if err := cmd.Table.Write(e.out); err != nil {
				return err
			}
			continue
		}
		if e.opts.Oneline {
			if err := output.Oneline(e.out, cmd.Output.String()); err != nil {
				return err
			}
			continue
		}
		if _, err := e.out.Write(cmd.Output.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// converge polls the configured consumer counter on every refresh until it
// reaches the committed generation or the deadline expires.
func (e *Engine) converge(ctx context.Context, target int64) error {
	column := ColRelayCfg
	if e.opts.Wait == WaitAgents {
		column = ColAgentCfg
	}
	slog.Debug("waiting for convergence", "column", column, "target", target)

	for {
		if err := e.snap.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return NewTimeoutError()
			}
			return newConnectionError(err)
		}
		for _, row := range e.snap.Rows(GlobalTable) {
			if cur, _ := row.Fields[column].(int64); cur >= target {
				return nil
			}
		}
		if err := e.block(ctx); err != nil {
			return err
		}
	}
}

package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabricdb/fabctl/internal/commands"
	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
	"github.com/fabricdb/fabctl/internal/engine"
	"github.com/fabricdb/fabctl/internal/schema"
)

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// newRegistry builds the command registry. The descriptor tables are static,
// so a construction error is a programming error.
func newRegistry() (*ctl.Registry, error) {
	return ctl.NewRegistry(commands.Commands())
}

// openSnapshot opens the replica and returns an unloaded snapshot bound to
// it. The caller owns the store.
func openSnapshot(path string) (*db.Store, *db.Snapshot, error) {
	sch, err := schema.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := db.Open(path, sch)
	if err != nil {
		return nil, nil, err
	}
	return st, st.NewSnapshot(), nil
}

// parseBatch resolves an argument vector against the command registry.
// Pure parsing: no replica, no transaction.
func parseBatch(args []string) ([]*ctl.BoundCommand, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "build command registry", err)
	}
	cmds, err := ctl.ParseCommands(reg, args, nil)
	if err != nil {
		var ue *ctl.UsageError
		if errors.As(err, &ue) {
			return nil, WrapExitError(ExitUsageError, "", err)
		}
		return nil, WrapExitError(ExitFailure, "", err)
	}
	return cmds, nil
}

// executeBatch drives parsed commands through the engine, writing command
// output to out. Errors carry the right process exit code.
func executeBatch(ctx context.Context, snap *db.Snapshot, eopts engine.Options, out io.Writer, args []string, cmds []*ctl.BoundCommand) error {
	eng := engine.New(snap, eopts, out)
	if err := eng.Run(ctx, "fabctl "+strings.Join(args, " "), cmds); err != nil {
		switch {
		case engine.IsTimeout(err):
			return WrapExitError(ExitTimeout, "", err)
		case engine.IsConnection(err):
			return WrapExitError(ExitDisconnected, "", err)
		default:
			return WrapExitError(ExitFailure, "", err)
		}
	}
	return nil
}

// runOneShot is the default mode: open the replica, execute the batch, exit.
func runOneShot(cmd *cobra.Command, opts *RootOptions, args []string) error {
	if opts.Database == "" {
		return WrapExitError(ExitUsageError, "no database; use --db or FABCTL_DB", nil)
	}
	eopts, err := engineOptions(opts)
	if err != nil {
		return WrapExitError(ExitUsageError, "", err)
	}
	if opts.NoLeaderOnly {
		opts.LeaderOnly = false
	}
	slog.Debug("executing batch", "db", opts.Database, "leader_only", opts.LeaderOnly, "wait", eopts.Wait)

	// Parse before touching the replica so usage errors have no side effects.
	cmds, err := parseBatch(args)
	if err != nil {
		return err
	}

	st, snap, err := openSnapshot(opts.Database)
	if err != nil {
		return WrapExitError(ExitDisconnected, "", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing replica", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return executeBatch(ctx, snap, eopts, cmd.OutOrStdout(), args, cmds)
}

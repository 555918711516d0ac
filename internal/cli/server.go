package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/daemon"
	"github.com/fabricdb/fabctl/internal/db"
)

// detachedEnv marks the re-executed child so it serves instead of detaching
// again.
const detachedEnv = "FABCTL_DETACHED"

// runServer starts server mode. In the parent it re-executes the binary in
// its own session, waits for the socket to appear, prints its path, and
// returns; the child does the actual serving.
func runServer(ctx context.Context, opts *RootOptions) error {
	if opts.Database == "" {
		return WrapExitError(ExitUsageError, "no database; use --db or FABCTL_DB", nil)
	}
	if opts.Socket == "" {
		return WrapExitError(ExitUsageError, "server mode needs --socket", nil)
	}
	if os.Getenv(detachedEnv) == "" {
		return detach(opts)
	}
	return serve(ctx, opts)
}

// detach re-executes the binary as a session leader and waits for it to bind
// the socket.
func detach(opts *RootOptions) error {
	exe, err := os.Executable()
	if err != nil {
		return WrapExitError(ExitFailure, "locate executable", err)
	}

	child := exec.Command(exe, os.Args[1:]...)
	child.Env = append(os.Environ(), detachedEnv+"=1")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return WrapExitError(ExitFailure, "start server", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := daemon.Dial(opts.Socket); err == nil {
			c.Close()
			fmt.Println(opts.Socket)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return WrapExitError(ExitFailure, "server did not bind "+opts.Socket, nil)
}

// serve runs the accept loop in the current process until an exit request or
// a termination signal arrives.
func serve(ctx context.Context, opts *RootOptions) error {
	st, snap, err := openSnapshot(opts.Database)
	if err != nil {
		return WrapExitError(ExitDisconnected, "", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing replica", "error", closeErr)
		}
	}()

	srv, err := daemon.NewServer(opts.Socket, func(ctx context.Context, args []string) (string, error) {
		return handleRequest(ctx, snap, args)
	})
	if err != nil {
		return WrapExitError(ExitFailure, "", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("server listening", "socket", opts.Socket, "db", opts.Database)
	if err := srv.Serve(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped")
	return nil
}

// handleRequest executes one forwarded argument vector. Every request starts
// from default options; only what the request itself carries applies, so
// one client's --wait or --oneline can never leak into the next request.
func handleRequest(ctx context.Context, snap *db.Snapshot, args []string) (string, error) {
	var reqOpts RootOptions
	fs := pflag.NewFlagSet("request", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	bindGlobalFlags(fs, &reqOpts)
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	eopts, err := engineOptions(&reqOpts)
	if err != nil {
		return "", err
	}

	rest := fs.Args()
	cmds, err := parseBatch(rest)
	if err != nil {
		return "", err
	}

	level := slog.LevelDebug
	if ctl.MightWrite(cmds) {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "request", "args", args)

	var out bytes.Buffer
	if err := executeBatch(ctx, snap, eopts, &out, rest, cmds); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// runClient forwards the invocation to a running server and prints its
// output.
func runClient(cmd *cobra.Command, opts *RootOptions, args []string) error {
	c, err := daemon.Dial(opts.Socket)
	if err != nil {
		return WrapExitError(ExitDisconnected, "", err)
	}
	defer c.Close()

	if len(args) == 1 && args[0] == "exit" {
		if err := c.Exit(); err != nil {
			return WrapExitError(ExitFailure, "", err)
		}
		return nil
	}

	// Re-render the engine-level options so the server sees them; database
	// and socket selection stay client-side.
	reqArgs := renderRequestArgs(opts, args)
	out, err := c.Run(reqArgs)
	fmt.Fprint(cmd.OutOrStdout(), out)
	if err != nil {
		return WrapExitError(ExitFailure, "", err)
	}
	return nil
}

// renderRequestArgs rebuilds the per-request option prefix from the parsed
// global flags.
func renderRequestArgs(opts *RootOptions, args []string) []string {
	var req []string
	if opts.Wait != "" {
		req = append(req, "--wait="+opts.Wait)
	}
	if opts.NoWait {
		req = append(req, "--no-wait")
	}
	if opts.Timeout > 0 {
		req = append(req, "--timeout="+opts.Timeout.String())
	}
	if opts.DryRun {
		req = append(req, "--dry-run")
	}
	if opts.Oneline {
		req = append(req, "--oneline")
	}
	return append(req, args...)
}

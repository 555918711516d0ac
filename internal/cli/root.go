// Package cli wires the command-line surface: global flags, environment and
// config-file defaults, and the three execution modes (one-shot, server,
// client-of-server).
package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fabricdb/fabctl/internal/engine"
)

// RootOptions holds the global flags shared by every execution mode.
type RootOptions struct {
	Database string
	Socket   string
	Config   string

	Wait    string
	NoWait  bool
	Timeout time.Duration
	DryRun  bool
	Oneline bool

	LeaderOnly   bool
	NoLeaderOnly bool

	Detach  bool
	Verbose bool
}

// timeoutValue accepts either a bare number of seconds or a Go duration
// string, so --timeout=30 and --timeout=30s mean the same thing.
type timeoutValue time.Duration

func (v *timeoutValue) String() string { return time.Duration(*v).String() }

func (v *timeoutValue) Type() string { return "duration" }

func (v *timeoutValue) Set(s string) error {
	d, err := parseTimeout(s)
	if err != nil {
		return err
	}
	*v = timeoutValue(d)
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("timeout must not be negative: %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// bindGlobalFlags registers the global flags on a flag set. The server's
// per-request scanner reuses this so request options and command-line options
// stay in lockstep.
func bindGlobalFlags(fs *pflag.FlagSet, opts *RootOptions) {
	fs.StringVar(&opts.Database, "db", "", "path to the replica database file")
	fs.StringVar(&opts.Socket, "socket", "", "unix socket of a running server to forward to")
	fs.StringVar(&opts.Config, "config", "", "path to a YAML config file")

	fs.StringVar(&opts.Wait, "wait", "", "block until consumers converge (none|relay|agents)")
	fs.BoolVar(&opts.NoWait, "no-wait", false, "do not wait for consumers (same as --wait=none)")
	fs.VarP((*timeoutValue)(&opts.Timeout), "timeout", "t", "abort if not finished within this many seconds, or a duration (0 = no limit)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "run the batch without committing")
	fs.BoolVar(&opts.Oneline, "oneline", false, "print each command's output on a single line")

	fs.BoolVar(&opts.LeaderOnly, "leader-only", true, "only accept a replica connected to the cluster leader")
	fs.BoolVar(&opts.NoLeaderOnly, "no-leader-only", false, "accept any replica")

	fs.BoolVar(&opts.Detach, "detach", false, "run as a long-lived server on --socket")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
}

// NewRootCommand creates the fabctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fabctl [options] command [args] [-- command [args]]...",
		Short: "fabctl - FabricDB configuration client",
		Long: `fabctl edits the FabricDB configuration database as one atomic
transaction per invocation. Multiple commands separated by -- run in the
same transaction and either all take effect or none do.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, opts, args)
		},
	}

	// Everything after the first positional token belongs to the batch
	// parser, including tokens that look like flags.
	cmd.Flags().SetInterspersed(false)
	bindGlobalFlags(cmd.Flags(), opts)

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if envCfg, err := loadEnv(); err == nil {
		if extra := envCfg.extraArgs(); len(extra) > 0 {
			cmd.SetArgs(append(extra, os.Args[1:]...))
		}
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fabctl: %v\n", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// dispatch applies the configuration precedence (flags, then environment,
// then config file) and routes to the right execution mode.
func dispatch(cmd *cobra.Command, opts *RootOptions, args []string) error {
	setupLogging(opts.Verbose)

	envCfg, err := loadEnv()
	if err != nil {
		return WrapExitError(ExitUsageError, "invalid environment", err)
	}
	if opts.Database == "" {
		opts.Database = envCfg.Database
	}
	if opts.Socket == "" {
		opts.Socket = envCfg.Socket
	}
	if opts.Config == "" {
		opts.Config = envCfg.Config
	}

	if opts.Config != "" {
		fileCfg, err := loadConfigFile(opts.Config)
		if err != nil {
			return WrapExitError(ExitUsageError, "invalid config file", err)
		}
		if err := applyFileConfig(opts, fileCfg); err != nil {
			return WrapExitError(ExitUsageError, "invalid config file", err)
		}
	}

	switch {
	case opts.Detach:
		return runServer(cmd.Context(), opts)
	case opts.Socket != "":
		return runClient(cmd, opts, args)
	default:
		if len(args) == 0 {
			return cmd.Help()
		}
		return runOneShot(cmd, opts, args)
	}
}

// applyFileConfig fills options the flags and environment left unset.
func applyFileConfig(opts *RootOptions, cfg fileConfig) error {
	if opts.Database == "" {
		opts.Database = cfg.Database
	}
	if opts.Socket == "" {
		opts.Socket = cfg.Socket
	}
	if opts.Wait == "" && !opts.NoWait {
		opts.Wait = cfg.Wait
	}
	if opts.Timeout == 0 && cfg.Timeout != "" {
		d, err := parseTimeout(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		opts.Timeout = d
	}
	return nil
}

// engineOptions translates the global flags into executor options.
func engineOptions(opts *RootOptions) (engine.Options, error) {
	var eopts engine.Options

	switch {
	case opts.NoWait && opts.Wait != "" && opts.Wait != "none":
		return eopts, fmt.Errorf("--no-wait conflicts with --wait=%s", opts.Wait)
	case opts.NoWait, opts.Wait == "":
		eopts.Wait = engine.WaitNone
	default:
		mode, err := engine.ParseWaitMode(opts.Wait)
		if err != nil {
			return eopts, err
		}
		eopts.Wait = mode
	}

	eopts.DryRun = opts.DryRun
	eopts.Oneline = opts.Oneline
	eopts.Timeout = opts.Timeout
	return eopts, nil
}

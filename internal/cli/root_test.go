package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricdb/fabctl/internal/engine"
)

func TestEngineOptions_WaitModes(t *testing.T) {
	eopts, err := engineOptions(&RootOptions{})
	require.NoError(t, err)
	assert.Equal(t, engine.WaitNone, eopts.Wait)

	eopts, err = engineOptions(&RootOptions{Wait: "relay"})
	require.NoError(t, err)
	assert.Equal(t, engine.WaitRelay, eopts.Wait)

	eopts, err = engineOptions(&RootOptions{Wait: "agents", Oneline: true, DryRun: true, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, engine.WaitAgents, eopts.Wait)
	assert.True(t, eopts.Oneline)
	assert.True(t, eopts.DryRun)
	assert.Equal(t, time.Minute, eopts.Timeout)

	eopts, err = engineOptions(&RootOptions{NoWait: true})
	require.NoError(t, err)
	assert.Equal(t, engine.WaitNone, eopts.Wait)

	_, err = engineOptions(&RootOptions{NoWait: true, Wait: "relay"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--no-wait conflicts with --wait=relay")

	_, err = engineOptions(&RootOptions{Wait: "bogus"})
	require.Error(t, err)
}

func TestLoadConfigFile_Strict(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "fabctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: /tmp/r.db\nwait: relay\ntimeout: 30s\n"), 0o644))
	cfg, err := loadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/r.db", cfg.Database)
	assert.Equal(t, "relay", cfg.Wait)
	assert.Equal(t, "30s", cfg.Timeout)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("databse: typo\n"), 0o644))
	_, err = loadConfigFile(bad)
	require.Error(t, err, "unknown keys must be rejected")

	_, err = loadConfigFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestApplyFileConfig_FlagsWin(t *testing.T) {
	opts := &RootOptions{Database: "/from/flag", Wait: "agents"}
	require.NoError(t, applyFileConfig(opts, fileConfig{
		Database: "/from/file",
		Wait:     "relay",
		Timeout:  "10s",
	}))
	assert.Equal(t, "/from/flag", opts.Database)
	assert.Equal(t, "agents", opts.Wait)
	assert.Equal(t, 10*time.Second, opts.Timeout)

	opts = &RootOptions{}
	require.NoError(t, applyFileConfig(opts, fileConfig{Database: "/from/file", Wait: "relay"}))
	assert.Equal(t, "/from/file", opts.Database)
	assert.Equal(t, "relay", opts.Wait)

	err := applyFileConfig(&RootOptions{}, fileConfig{Timeout: "nonsense"})
	require.Error(t, err)
}

func TestTimeoutFlag_SecondsOrDuration(t *testing.T) {
	parse := func(t *testing.T, arg string) (RootOptions, error) {
		t.Helper()
		var opts RootOptions
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		bindGlobalFlags(fs, &opts)
		err := fs.Parse([]string{arg, "list", "Switch"})
		return opts, err
	}

	// A bare number means seconds; duration syntax still works.
	opts, err := parse(t, "--timeout=30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	opts, err = parse(t, "--timeout=1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.Timeout)

	opts, err = parse(t, "-t500ms")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, opts.Timeout)

	_, err = parse(t, "--timeout=-5")
	require.Error(t, err)
	_, err = parse(t, "--timeout=soon")
	require.Error(t, err)
}

func TestApplyFileConfig_TimeoutSeconds(t *testing.T) {
	opts := &RootOptions{}
	require.NoError(t, applyFileConfig(opts, fileConfig{Timeout: "30"}))
	assert.Equal(t, 30*time.Second, opts.Timeout)
}

func TestRenderRequestArgs(t *testing.T) {
	args := renderRequestArgs(&RootOptions{
		Wait:    "relay",
		Timeout: 5 * time.Second,
		DryRun:  true,
		Oneline: true,
	}, []string{"list", "Switch"})
	assert.Equal(t, []string{
		"--wait=relay", "--timeout=5s", "--dry-run", "--oneline", "list", "Switch",
	}, args)

	args = renderRequestArgs(&RootOptions{NoWait: true}, []string{"show"})
	assert.Equal(t, []string{"--no-wait", "show"}, args)
}

func TestEnvConfig_ExtraArgs(t *testing.T) {
	t.Setenv("FABCTL_DB", "/env/replica.db")
	t.Setenv("FABCTL_OPTIONS", "--timeout=10s --oneline")

	cfg, err := loadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/env/replica.db", cfg.Database)
	assert.Equal(t, []string{"--timeout=10s", "--oneline"}, cfg.extraArgs())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(os.ErrNotExist))
	assert.Equal(t, ExitTimeout, GetExitCode(WrapExitError(ExitTimeout, "", nil)))
}

package cli

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envConfig is the environment surface. FABCTL_OPTIONS holds extra
// command-line options that are prepended to the real argument vector, so a
// shell profile can pin defaults like --timeout without wrapping the binary.
type envConfig struct {
	Database string `env:"FABCTL_DB"`
	// FABCTL_DAEMON holds a server socket path; when set, invocations are
	// forwarded there instead of opening the replica directly.
	Socket  string `env:"FABCTL_DAEMON"`
	Config  string `env:"FABCTL_CONFIG"`
	Options string `env:"FABCTL_OPTIONS"`
}

func loadEnv() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// extraArgs splits FABCTL_OPTIONS into argument tokens.
func (c envConfig) extraArgs() []string {
	return strings.Fields(c.Options)
}

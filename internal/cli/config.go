package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration file. Flags and environment
// variables take precedence over it.
type fileConfig struct {
	Database string `yaml:"database"`
	Socket   string `yaml:"socket"`
	Wait     string `yaml:"wait"`
	Timeout  string `yaml:"timeout"`
}

// loadConfigFile reads and strictly decodes a YAML config file. Unknown keys
// are an error so a typo cannot silently disable a setting.
func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

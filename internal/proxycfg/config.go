// Package proxycfg loads and hot-reloads relaytapd's configuration: the
// listen port, the data directory for the capture log, and the verbose
// flag controlling operational logging.
package proxycfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is relaytapd's startup configuration. Port and DataDir are
// startup-only — changing them requires a restart. Verbose is the one
// field the running daemon can pick up without a restart, via Watcher.
type Config struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"dataDir"`
	Verbose bool   `yaml:"verbose"`
}

const defaultPort = 3456

// Load reads and parses path as YAML. A missing file is not an error — it
// yields defaults, since relaytapd runs fine with none of these set
// explicitly. Invalid YAML or a failed validate is an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyDefaults() *Config {
	return &Config{
		Port:    defaultPort,
		DataDir: "./data",
		Verbose: false,
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", cfg.Port)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	return nil
}

// Package config provides configuration types, defaults, and persistence
// for rauctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/log"
	"github.com/fwkit/rauctl/internal/tracing"
)

// Config holds all configuration options for rauctl.
type Config struct {
	// Bus forces a bus scope: "system" or "session". Empty means follow
	// the DBUS_STARTER_BUS_TYPE environment hint (default system).
	Bus string `mapstructure:"bus"`

	History HistoryConfig  `mapstructure:"history"`
	Watch   WatchConfig    `mapstructure:"watch"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// HistoryConfig controls the local install history store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty: ~/.local/share/rauctl/history.db
}

// WatchConfig controls the bundle drop-directory watcher.
type WatchConfig struct {
	// Debounce is how long a bundle file must be quiet before it is
	// picked up (writers are still copying before that).
	Debounce time.Duration `mapstructure:"debounce"`

	// Cooldown suppresses re-installs of the same bundle path after it
	// was processed.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Bus: "",
		History: HistoryConfig{
			Enabled: true,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
			Cooldown: 5 * time.Minute,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// BusScope resolves the effective bus scope: an explicit config value
// wins, otherwise the environment hint decides.
func (c Config) BusScope() installer.BusScope {
	switch c.Bus {
	case "session":
		return installer.BusSession
	case "system":
		return installer.BusSystem
	default:
		return installer.ResolveBusScope()
	}
}

// Validate rejects values the rest of the program would misbehave on.
func (c Config) Validate() error {
	switch c.Bus {
	case "", "system", "session":
	default:
		return fmt.Errorf("invalid bus %q: must be \"system\" or \"session\"", c.Bus)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.Watch.Cooldown < 0 {
		return fmt.Errorf("watch.cooldown must not be negative")
	}
	return nil
}

// HistoryPath returns the configured history database path, or the
// default under the user's data directory.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "rauctl-history.db"
	}
	return filepath.Join(home, ".local", "share", "rauctl", "history.db")
}

// DefaultConfigTemplate returns the default config as a YAML string with
// comments.
func DefaultConfigTemplate() string {
	return `# rauctl configuration

# Bus scope for reaching the RAUC service: "system" or "session".
# Unset: follow DBUS_STARTER_BUS_TYPE, defaulting to the system bus.
# bus: system

# Local install history (sqlite)
history:
  enabled: true
  # path: /var/lib/rauctl/history.db

# Drop-directory watch mode ('rauctl watch')
watch:
  debounce: 2s    # quiet period before a new bundle is picked up
  cooldown: 5m    # suppress re-installs of a just-processed bundle

# Tracing (off by default)
tracing:
  enabled: false
  exporter: file       # file | stdout | otlp
  # file_path: ~/.config/rauctl/traces/traces.jsonl
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

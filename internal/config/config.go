// Package config loads application configuration: an optional config file,
// overridable through LH_-prefixed environment variables, with working
// defaults when neither is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	// DataDir holds the database, vault key, and encrypted credential
	// container. Defaults to ~/.ledgerhound.
	DataDir string `mapstructure:"data_dir"`

	// DatabasePath overrides the ledger database location. Empty means
	// <data_dir>/ledger.db.
	DatabasePath string `mapstructure:"database_path"`

	// APIBaseURL overrides the partner API root. Empty selects production.
	APIBaseURL string `mapstructure:"api_base_url"`

	Log    LogConfig    `mapstructure:"log"`
	Daemon DaemonConfig `mapstructure:"daemon"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, sends log output to a size-rotated file instead of
	// stderr.
	File string `mapstructure:"file"`
}

// DaemonConfig controls the background sync daemon.
type DaemonConfig struct {
	// Schedule is a cron expression for periodic sync runs.
	Schedule string `mapstructure:"schedule"`
	// Debounce is how long to wait after a vault file change before
	// triggering a sync, coalescing bursts of writes.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads configuration from path (or the default search locations when
// path is empty). A missing config file is fine; defaults and environment
// variables carry the day.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	v.SetDefault("data_dir", filepath.Join(home, ".ledgerhound"))
	v.SetDefault("database_path", "")
	v.SetDefault("api_base_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("daemon.schedule", "@every 6h")
	v.SetDefault("daemon.debounce", 2*time.Second)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".ledgerhound"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An explicitly named file must exist; the default search may come up
	// empty, in which case defaults and env vars apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Daemon.Debounce < 0 {
		return fmt.Errorf("daemon.debounce must not be negative")
	}
	return nil
}

// Database returns the effective ledger database path.
func (c *Config) Database() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "ledger.db")
}

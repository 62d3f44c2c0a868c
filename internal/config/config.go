// Package config provides centralized configuration management for submount.
// Configuration is read from a JSON file at /etc/submount/config.json
// (overridable via SUBMOUNT_CONFIG or --config) and SUBMOUNT_* environment
// variables, e.g. SUBMOUNT_LOG_LEVEL=debug.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/submount/config.json"

	// ConfigEnvVar is the environment variable to override config file location
	ConfigEnvVar = "SUBMOUNT_CONFIG"

	// EnvPrefix prefixes environment overrides of single keys.
	EnvPrefix = "SUBMOUNT"
)

// Config is the root configuration structure
type Config struct {
	Paths    PathsConfig    `json:"paths" mapstructure:"paths"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
	Timeouts TimeoutsConfig `json:"timeouts" mapstructure:"timeouts"`
	Journal  JournalConfig  `json:"journal" mapstructure:"journal"`
}

// PathsConfig defines filesystem paths for submount state. The staging
// directory is fixed and not part of the configuration.
type PathsConfig struct {
	StateDir string `json:"state_dir" mapstructure:"state_dir"` // Journal directory
	LockFile string `json:"lock_file" mapstructure:"lock_file"` // Derived from state_dir if empty
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // trace, debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text or json
}

// TimeoutsConfig holds duration strings (e.g., "5s", "500ms").
type TimeoutsConfig struct {
	// LockAcquire bounds the wait for another redirected mount to finish.
	LockAcquire string `json:"lock_acquire" mapstructure:"lock_acquire"`

	// JournalOpen bounds the wait for the journal database file lock.
	JournalOpen string `json:"journal_open" mapstructure:"journal_open"`
}

// GetLockAcquire returns the lock timeout as a time.Duration.
// Panics if the configuration is invalid (should be caught by validation).
func (t *TimeoutsConfig) GetLockAcquire() time.Duration {
	return mustParseDuration(t.LockAcquire)
}

// GetJournalOpen returns the journal open timeout as a time.Duration.
func (t *TimeoutsConfig) GetJournalOpen() time.Duration {
	return mustParseDuration(t.JournalOpen)
}

// mustParseDuration parses a duration string, panicking on error.
// Validation has already verified the format.
func mustParseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v (config validation should have caught this)", s, err))
	}
	return d
}

type JournalConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	MaxEntries int  `json:"max_entries" mapstructure:"max_entries"` // 0 keeps everything
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			StateDir: "/var/lib/submount",
			LockFile: "", // Derived from StateDir
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Timeouts: TimeoutsConfig{
			LockAcquire: "30s",
			JournalOpen: "5s",
		},
		Journal: JournalConfig{
			Enabled:    true,
			MaxEntries: 1000,
		},
	}
}

// Loader reads the configuration from a file, the environment and bound
// command line flags, in increasing priority.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader seeded with DefaultConfig.
func NewLoader() *Loader {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("paths.state_dir", d.Paths.StateDir)
	v.SetDefault("paths.lock_file", d.Paths.LockFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("timeouts.lock_acquire", d.Timeouts.LockAcquire)
	v.SetDefault("timeouts.journal_open", d.Timeouts.JournalOpen)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.max_entries", d.Journal.MaxEntries)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag overrides key with flag when the flag was set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: no such flag", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path. An empty path falls back to SUBMOUNT_CONFIG and then to
// DefaultConfigPath; only the default file may be missing.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path == "" {
		path, explicit = DefaultConfigPath, false
	}

	l.v.SetConfigFile(path)
	l.v.SetConfigType("json")
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		switch {
		case missing && explicit:
			return nil, fmt.Errorf("config file not found at %s", path)
		case !missing:
			return nil, fmt.Errorf("failed to parse config file %s: %w (ensure it's valid JSON)", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in values the file explicitly set to empty strings.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Paths.StateDir == "" {
		c.Paths.StateDir = defaults.Paths.StateDir
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Timeouts.LockAcquire == "" {
		c.Timeouts.LockAcquire = defaults.Timeouts.LockAcquire
	}
	if c.Timeouts.JournalOpen == "" {
		c.Timeouts.JournalOpen = defaults.Timeouts.JournalOpen
	}
}

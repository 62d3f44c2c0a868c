package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := c.validateLog(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.validateTimeouts(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if err := c.validateJournal(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir cannot be empty")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("state_dir must be absolute, got %q", c.Paths.StateDir)
	}
	if c.Paths.LockFile != "" && !filepath.IsAbs(c.Paths.LockFile) {
		return fmt.Errorf("lock_file must be absolute, got %q", c.Paths.LockFile)
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	fields := map[string]string{
		"lock_acquire": c.Timeouts.LockAcquire,
		"journal_open": c.Timeouts.JournalOpen,
	}

	for name, val := range fields {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, val)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
		if d > time.Hour {
			return fmt.Errorf("%s: too large (%s), max is 1h", name, d)
		}
	}
	return nil
}

func (c *Config) validateJournal() error {
	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("max_entries: must be >= 0, got %d", c.Journal.MaxEntries)
	}
	return nil
}

package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "relative state dir", mutate: func(c *Config) { c.Paths.StateDir = "state" }, wantErr: "state_dir must be absolute"},
		{name: "empty state dir", mutate: func(c *Config) { c.Paths.StateDir = "" }, wantErr: "state_dir cannot be empty"},
		{name: "relative lock file", mutate: func(c *Config) { c.Paths.LockFile = "x.lock" }, wantErr: "lock_file must be absolute"},
		{name: "absolute lock file", mutate: func(c *Config) { c.Paths.LockFile = "/run/lock/submount.lock" }},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "level"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "format must be"},
		{name: "bad duration", mutate: func(c *Config) { c.Timeouts.LockAcquire = "soon" }, wantErr: "lock_acquire: invalid duration"},
		{name: "zero duration", mutate: func(c *Config) { c.Timeouts.JournalOpen = "0s" }, wantErr: "journal_open: must be positive"},
		{name: "huge duration", mutate: func(c *Config) { c.Timeouts.LockAcquire = "2h" }, wantErr: "too large"},
		{name: "negative max entries", mutate: func(c *Config) { c.Journal.MaxEntries = -1 }, wantErr: "max_entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

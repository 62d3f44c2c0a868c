// Package paths provides the filesystem paths used by submount.
// Helpers take configuration as input to avoid global config coupling.
package paths

import (
	"path/filepath"

	"github.com/spin-stack/submount/internal/config"
)

const (
	// RuntimeTopDir is the runtime directory holding the staging directory.
	// Making it private is the preferred way to isolate the staging mount.
	RuntimeTopDir = "/run"

	// StagingDir is the temporary target of redirected mounts. It only ever
	// carries a mount inside a private mount namespace.
	StagingDir = RuntimeTopDir + "/mount/tmptgt"

	journalFile = "journal.db"
	lockFile    = "submount.lock"
)

// JournalPath returns the path of the operation journal database.
func JournalPath(pathsCfg config.PathsConfig) string {
	return filepath.Join(pathsCfg.StateDir, journalFile)
}

// LockPath returns the lock file serializing redirected mounts. An explicit
// lock_file wins over the one derived from the state directory.
func LockPath(pathsCfg config.PathsConfig) string {
	if pathsCfg.LockFile != "" {
		return pathsCfg.LockFile
	}
	return filepath.Join(pathsCfg.StateDir, lockFile)
}

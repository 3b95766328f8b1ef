package main

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/orbitflux/syncd/internal/config"
	"github.com/orbitflux/syncd/internal/statestore"
	"github.com/orbitflux/syncd/internal/synclock"
)

// stateDir returns the per-sync-root directory syncengine.New keeps its
// lock file, revision index, and state database under.
func stateDir(cfg *config.Config) string {
	return filepath.Join(cfg.SyncRoot, ".syncd")
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(stateDir(cfg), "syncd.lock")
}

func statePath(cfg *config.Config) string {
	return filepath.Join(stateDir(cfg), "state.db")
}

// runningPID reports the PID of a live daemon attached to cfg.SyncRoot,
// if any. A lock file whose holder process is no longer alive does not
// count as running.
func runningPID(cfg *config.Config) (int, bool) {
	path := lockPath(cfg)
	pid, ok := synclock.HolderPID(path)
	if !ok || !synclock.HolderAlive(path) {
		return 0, false
	}
	return pid, true
}

// signalDaemon delivers sig to the running daemon's process, or returns
// an error describing why none was found.
func signalDaemon(cfg *config.Config, sig syscall.Signal) error {
	pid, ok := runningPID(cfg)
	if !ok {
		return fmt.Errorf("syncd: no running daemon found for %s", cfg.SyncRoot)
	}
	return syscall.Kill(pid, sig)
}

// openStateStoreReadOnly opens the daemon's state database for a status
// report. It is not literally read-only — sqlite has no such open mode
// through jmoiron/sqlx here — but the status command never writes to it.
func openStateStoreReadOnly(cfg *config.Config) (*statestore.Store, error) {
	return statestore.Open(statePath(cfg))
}

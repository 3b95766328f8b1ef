package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitflux/syncd/internal/config"
	"github.com/orbitflux/syncd/internal/synclock"
)

func testCfg(t *testing.T) *config.Config {
	return &config.Config{SyncRoot: t.TempDir()}
}

func TestStateDir_PathHelpers(t *testing.T) {
	cfg := testCfg(t)
	assert.Equal(t, filepath.Join(cfg.SyncRoot, ".syncd"), stateDir(cfg))
	assert.Equal(t, filepath.Join(cfg.SyncRoot, ".syncd", "syncd.lock"), lockPath(cfg))
	assert.Equal(t, filepath.Join(cfg.SyncRoot, ".syncd", "state.db"), statePath(cfg))
}

func TestRunningPID_NoLockFile(t *testing.T) {
	cfg := testCfg(t)
	_, running := runningPID(cfg)
	assert.False(t, running)
}

func TestRunningPID_ReflectsLiveHolder(t *testing.T) {
	cfg := testCfg(t)
	require.NoError(t, os.MkdirAll(stateDir(cfg), 0o755))

	lock := synclock.New(lockPath(cfg))
	require.NoError(t, lock.TryLock())
	defer lock.Unlock()

	pid, running := runningPID(cfg)
	assert.True(t, running)
	assert.Greater(t, pid, 0)
}

func TestSignalDaemon_ErrorsWhenNotRunning(t *testing.T) {
	cfg := testCfg(t)
	err := signalDaemon(cfg, 0)
	assert.Error(t, err)
}

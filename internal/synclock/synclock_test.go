package synclock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	first := New(path)
	require.NoError(t, first.TryLock())
	defer first.Unlock()

	second := New(path)
	err := second.TryLock()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestTryLock_RecordsHolderPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	l := New(path)
	require.NoError(t, l.TryLock())
	defer l.Unlock()

	pid, ok := HolderPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestUnlock_RemovesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	l := New(path)
	require.NoError(t, l.TryLock())
	require.NoError(t, l.Unlock())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUnlock_NoopWhenNotHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	l := New(path)
	assert.NoError(t, l.Unlock())
}

func TestHolderPID_MissingFile(t *testing.T) {
	_, ok := HolderPID(filepath.Join(t.TempDir(), "nope.lock"))
	assert.False(t, ok)
}

func TestTryLock_RecordsHolderToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	l := New(path)
	require.NoError(t, l.TryLock())
	defer l.Unlock()

	token, ok := HolderToken(path)
	require.True(t, ok)
	assert.Equal(t, l.Token(), token)
	assert.NotEmpty(t, token)
}

func TestHolderAlive_CurrentProcessIsAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")

	l := New(path)
	require.NoError(t, l.TryLock())
	defer l.Unlock()

	assert.True(t, HolderAlive(path))
}

func TestHolderAlive_StalePIDIsNotAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.lock")
	// PID 1 always exists, so pick an implausibly large one instead.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	assert.False(t, HolderAlive(path))
}

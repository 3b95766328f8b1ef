package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRemote(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	remote, err := m.ToRemote(filepath.Join(dir, "Docs", "Notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/Docs/Notes.txt", remote)

	_, err = m.ToRemote(filepath.Join(filepath.Dir(dir), "outside.txt"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestToLocal_ReusesExistingCasing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Documents"), 0o755))

	m := New(dir)
	got := m.ToLocal("/documents/report.txt")
	assert.Equal(t, filepath.Join(dir, "Documents", "report.txt"), got)
}

func TestToLocal_UsesServerCasingWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	got := m.ToLocal("/NewFolder/File.txt")
	assert.Equal(t, filepath.Join(dir, "NewFolder", "File.txt"), got)
}

func TestIsChild(t *testing.T) {
	assert.True(t, IsChild("/a/b", "/a"))
	assert.True(t, IsChild("/a/b/c", "/a"))
	assert.False(t, IsChild("/a", "/a"))
	assert.False(t, IsChild("/ab", "/a"))
	assert.True(t, IsChild("/a", "/"))
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Depth("/"))
	assert.Equal(t, 1, Depth("/a"))
	assert.Equal(t, 3, Depth("/a/b/c"))
}

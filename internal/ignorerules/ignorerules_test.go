package ignorerules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldExclude_Root(t *testing.T) {
	f := New(t.TempDir())
	assert.True(t, f.ShouldExclude("/"))
	assert.True(t, f.ShouldExclude(""))
}

func TestShouldExclude_Hardcoded(t *testing.T) {
	f := New(t.TempDir())
	assert.True(t, f.ShouldExclude("/Docs/.DS_Store"))
	assert.True(t, f.ShouldExclude("/~$report.docx"))
	assert.True(t, f.ShouldExclude("/.~lock.notes.odt#"))
	assert.False(t, f.ShouldExclude("/Docs/report.txt"))
}

func TestShouldExclude_SelectiveSync(t *testing.T) {
	f := New(t.TempDir())
	f.SetExcludedPaths([]string{"/Archive"})

	assert.True(t, f.ShouldExclude("/Archive"))
	assert.True(t, f.ShouldExclude("/Archive/old.txt"))
	assert.False(t, f.ShouldExclude("/ArchiveNotes.txt"))
}

func TestRemoveExcludedPath(t *testing.T) {
	f := New(t.TempDir())
	f.SetExcludedPaths([]string{"/Archive"})
	f.RemoveExcludedPath("/Archive")
	assert.False(t, f.ShouldExclude("/Archive/old.txt"))
}

func TestReloadMignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MignoreFileName), []byte("build/\n*.log\n"), 0o644))

	f := New(dir)
	require.NoError(t, f.ReloadMignore())

	assert.True(t, f.ShouldExclude("/build/out.o"))
	assert.True(t, f.ShouldExclude("/debug.log"))
	assert.False(t, f.ShouldExclude("/main.go"))
}

func TestReloadMignore_MissingFileClearsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MignoreFileName)
	require.NoError(t, os.WriteFile(path, []byte("*.log\n"), 0o644))

	f := New(dir)
	require.NoError(t, f.ReloadMignore())
	assert.True(t, f.ShouldExclude("/debug.log"))

	require.NoError(t, os.Remove(path))
	require.NoError(t, f.ReloadMignore())
	assert.False(t, f.ShouldExclude("/debug.log"))
}

// Package ignorerules implements the two exclusion filters of spec §4.3:
// a hardcoded table of OS/office temp-file names, and user exclusions
// (a selective-sync excluded-paths list plus a gitignore-style "mignore"
// file at the sync root). Grounded on the teacher's
// internal/client/sync/sync_ignore.go, which loads a default rule set plus
// a repo-local ignore file through sabhiram/go-gitignore.
package ignorerules

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/orbitflux/syncd/internal/pathutil"
)

// MignoreFileName is the name of the user-editable ignore file at the sync
// root (spec §6 "Ignore file").
const MignoreFileName = ".syncignore"

// hardcodedPatterns are always excluded, regardless of user configuration
// (spec §4.3 "Hardcoded exclusions"): a fixed set of OS/office temp names
// plus glob patterns for Office and LibreOffice lock files and ~*.tmp
// temp files.
var hardcodedPatterns = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
	"~$*",    // MS Office lock files
	".~*",    // LibreOffice lock files
	"~*.tmp", // generic temp files
}

// Filter evaluates both exclusion layers against lowercased remote paths.
type Filter struct {
	root string

	mu       sync.RWMutex
	hard     *gitignore.GitIgnore
	mignore  *gitignore.GitIgnore
	excluded map[string]struct{} // selective-sync excluded paths, lowercased
	mtime    int64                // mignore file mtime, to detect reloads
}

func New(root string) *Filter {
	return &Filter{
		root:     root,
		hard:     gitignore.CompileIgnoreLines(hardcodedPatterns...),
		excluded: make(map[string]struct{}),
	}
}

// SetExcludedPaths replaces the selective-sync excluded-paths list. If a
// folder is listed, all of its descendants are excluded too (enforced by
// ShouldExclude's prefix check, not by expanding the list here).
func (f *Filter) SetExcludedPaths(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excluded = make(map[string]struct{}, len(paths))
	for _, p := range paths {
		f.excluded[pathutil.Lower(p)] = struct{}{}
	}
}

// ExcludedPaths returns a snapshot of the selective-sync list.
func (f *Filter) ExcludedPaths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.excluded))
	for p := range f.excluded {
		out = append(out, p)
	}
	return out
}

// RemoveExcludedPath drops path from the selective-sync list. Used when a
// delete event arrives for a path the user had excluded (spec §4.7
// "Selective-sync bookkeeping": the server removed the source of truth).
func (f *Filter) RemoveExcludedPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.excluded, pathutil.Lower(path))
}

// ReloadMignore re-reads the mignore file if its mtime has changed since
// the last load (spec §4.3: "reloaded when its ctime changes").
func (f *Filter) ReloadMignore() error {
	path := filepath.Join(f.root, MignoreFileName)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		f.mu.Lock()
		f.mignore = nil
		f.mtime = 0
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	mtime := info.ModTime().UnixNano()
	f.mu.RLock()
	unchanged := mtime == f.mtime
	f.mu.RUnlock()
	if unchanged {
		return nil
	}

	lines, err := readLines(path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.mignore = gitignore.CompileIgnoreLines(lines...)
	f.mtime = mtime
	f.mu.Unlock()

	slog.Info("ignorerules: reloaded mignore file", "path", path, "rules", len(lines))
	return nil
}

// ShouldExclude reports whether remote (a "/"-prefixed remote path) is
// excluded by any of: the sync root itself, the hardcoded table, the
// selective-sync list (including any ancestor), or the mignore file.
func (f *Filter) ShouldExclude(remote string) bool {
	if remote == "" || remote == "/" {
		return true // root itself is always excluded from its own sync stream
	}

	rel := strings.TrimPrefix(remote, "/")
	base := filepath.Base(rel)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.hard.MatchesPath(base) {
		return true
	}

	lower := pathutil.Lower(remote)
	for excl := range f.excluded {
		if lower == excl || strings.HasPrefix(lower, excl+"/") {
			return true
		}
	}

	if f.mignore != nil && f.mignore.MatchesPath(rel) {
		return true
	}

	return false
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Package synderr implements the error taxonomy of spec §7: behavioural
// categories rather than Go types, each carrying a distinct handling
// policy (log-and-skip, persist-and-retry, or fatal-shutdown).
//
// Grounded on original_source/maestral/sync.py's imports from
// maestral.errors (MaestralApiError, RevFileError, DropboxDeletedError,
// DropboxAuthError, SyncError, ExcludedItemError, PathError,
// InotifyError, NotFoundError) and on the teacher's own per-path error
// bookkeeping in internal/client/sync/sync_status.go (SetError/ClearError
// keyed by path).
package synderr

import (
	"errors"
	"fmt"
)

// Kind is a behavioural error category (spec §7), not a Go type — a
// single Kind can wrap many different underlying causes.
type Kind string

const (
	// KindNotFound: remote says the target is absent. Policy: log, no-op.
	KindNotFound Kind = "not_found"
	// KindPathError: remote rejected the request because its revision is
	// stale. Policy: log, clear the local rev, skip.
	KindPathError Kind = "path_error"
	// KindExcludedItem: the local path conflicts with a user exclusion.
	// Policy: record as a per-path error, notify, skip.
	KindExcludedItem Kind = "excluded_item"
	// KindSyncError: a transient per-item failure. Policy: push to the
	// sync-error set, mark download_errors, retry next cycle.
	KindSyncError Kind = "sync_error"
	// KindRevFileError: the revision index failed to load or save.
	// Policy: fatal if the caller demands strict mode, otherwise log and
	// continue with an empty index.
	KindRevFileError Kind = "rev_file_error"
	// KindInotifyError: the watcher hit the OS's inotify-instance/watch
	// limit. Policy: fatal for this run; the operator must raise the OS
	// limit.
	KindInotifyError Kind = "inotify_error"
	// KindDropboxDeletedError: the sync root itself vanished remotely.
	// Policy: fatal; pause everything.
	KindDropboxDeletedError Kind = "root_deleted"
	// KindDropboxAuthError: credentials are no longer valid. Policy: clear
	// running, surface to the operator.
	KindDropboxAuthError Kind = "auth_error"
	// KindUnexpected: anything else. Policy: clear running, log with
	// a full error chain.
	KindUnexpected Kind = "unexpected"
)

// SyncErr is a classified error attached to a Kind and, where relevant, a
// remote path. Per spec §7 "Errors attached to a specific path carry both
// local and remote forms so the UI can display either."
type SyncErr struct {
	Kind       Kind
	RemotePath string
	LocalPath  string
	Cause      error
}

func New(kind Kind, remotePath string, cause error) *SyncErr {
	return &SyncErr{Kind: kind, RemotePath: remotePath, Cause: cause}
}

func (e *SyncErr) WithLocalPath(local string) *SyncErr {
	e.LocalPath = local
	return e
}

func (e *SyncErr) Error() string {
	if e.RemotePath != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.RemotePath, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *SyncErr) Unwrap() error { return e.Cause }

// Is reports whether err (or anything it wraps) is a SyncErr of kind.
func Is(err error, kind Kind) bool {
	var se *SyncErr
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsTransient reports whether kind should be retried on the next cycle
// rather than surfaced as fatal (spec §4.10, §7).
func IsTransient(kind Kind) bool {
	switch kind {
	case KindSyncError, KindNotFound, KindPathError, KindExcludedItem:
		return true
	default:
		return false
	}
}

// IsFatal reports whether kind must stop the daemon's workers rather
// than being retried (spec §4.10: "Missing root directory is a fatal
// error: syncing must stop rather than recreate the root").
func IsFatal(kind Kind) bool {
	switch kind {
	case KindInotifyError, KindDropboxDeletedError, KindDropboxAuthError, KindUnexpected:
		return true
	default:
		return false
	}
}

// ClearsRunning reports whether kind should clear the daemon's running
// flag entirely (auth errors and unexpected exceptions per spec §4.10),
// as distinct from fatal errors that merely halt this run's workers.
func ClearsRunning(kind Kind) bool {
	return kind == KindDropboxAuthError || kind == KindUnexpected
}

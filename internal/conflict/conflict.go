// Package conflict implements the Conflict Detector (spec §4.8): the
// seven-step verdict that decides, for a single remote change-list entry,
// whether to skip it, apply it, or rename-then-apply it.
//
// Grounded on internal/client/sync/sync_engine.go's reconcile/hasModified/
// isConflict trio, which compares local, remote, and last-synced metadata
// to route a path into one of several operation buckets; the spec's
// verdict enumeration is a cleaner restatement of that same comparison
// driven by the Revision Index instead of a three-way journal diff.
package conflict

import "time"

// Verdict is the outcome of comparing a remote entry against local state.
type Verdict int

const (
	// RemoteNewer: local has not been touched since the last successful
	// sync of this path; safe to apply the remote change as-is.
	RemoteNewer Verdict = iota
	// Conflict: both sides changed independently; the local item must be
	// renamed to a "(conflicting copy)" before the remote version lands.
	Conflict
	// Identical: local content already matches the remote entry; no
	// action needed (the upload that produced this entry was our own).
	Identical
	// LocalNewerOrIdentical: local is at least as current as remote, or
	// the remote entry is a deletion; skip, a future upload batch will
	// reconcile it.
	LocalNewerOrIdentical
)

func (v Verdict) String() string {
	switch v {
	case RemoteNewer:
		return "RemoteNewer"
	case Conflict:
		return "Conflict"
	case Identical:
		return "Identical"
	case LocalNewerOrIdentical:
		return "LocalNewerOrIdentical"
	default:
		return "Unknown"
	}
}

// RemoteEntry is the minimal shape of a remote change-list/list_folder
// entry the detector needs. Deleted entries carry Rev == "" and
// Hash == "", Deleted == true.
type RemoteEntry struct {
	Path    string
	Rev     string
	Hash    string
	Deleted bool
}

// Index is the subset of *revindex.Index the detector needs — kept as an
// interface so tests can supply a fake without constructing a real file.
type Index interface {
	Get(path string) (string, bool)
	Set(path, rev string)
}

// LocalStat is the subset of on-disk state the detector needs for a path
// that may or may not currently exist locally.
type LocalStat struct {
	Exists bool
	CTime  time.Time
	Hash   string // content hash; folders use the FolderRev sentinel
}

// Detect implements spec §4.8's algorithm:
//  1. remote_rev/remote_hash from entry.
//  2. local_rev from the index.
//  3. remote_rev == local_rev => LocalNewerOrIdentical (only for a
//     non-deleted entry whose path has a rev in the index).
//  4. local missing, or ctime(local) <= lastSyncForPath => RemoteNewer.
//  5. remote_rev is absent (deletion) => LocalNewerOrIdentical.
//  6. local_hash == remote_hash => Identical (and opportunistically
//     record remote_rev).
//  7. otherwise => Conflict.
func Detect(idx Index, entry RemoteEntry, local LocalStat, lastSyncForPath time.Time) Verdict {
	localRev, haveLocalRev := idx.Get(entry.Path)

	if !entry.Deleted && haveLocalRev && entry.Rev == localRev {
		return LocalNewerOrIdentical
	}

	if !local.Exists || !local.CTime.After(lastSyncForPath) {
		return RemoteNewer
	}

	if entry.Deleted {
		return LocalNewerOrIdentical
	}

	if local.Exists && local.Hash == entry.Hash {
		idx.Set(entry.Path, entry.Rev)
		return Identical
	}

	return Conflict
}

// Package statestore persists the daemon's scalar state — cursors,
// timestamps, the error sets, and bounded recent-change history (spec §6
// "Persisted state") — in a single SQLite table keyed by a dotted
// section.key name, separate from the Revision Index's bespoke binary
// format (internal/revindex). Grounded on
// internal/client/sync/sync_journal.go's SyncJournal, which persists its
// own scalar columns through jmoiron/sqlx over internal/db.
package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jmoiron/sqlx"

	"github.com/orbitflux/syncd/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Well-known keys, matching spec §6's state table.
const (
	KeyPath             = "main.path"
	KeyExcludedItems    = "main.excluded_items"
	KeyCursor           = "sync.cursor"
	KeyLastSync         = "sync.lastsync"
	KeyDownloadErrors   = "sync.download_errors"
	KeyPendingDownloads = "sync.pending_downloads"
	KeyRecentChanges    = "sync.recent_changes"
	KeyAccountID        = "account.account_id"
)

// RecentChangesLimit bounds the recent-change history (spec §6).
const RecentChangesLimit = 30

// Store is a small typed key/value store over a SQLite table.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the state database at path.
func Open(path string) (*Store, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("statestore: open: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("statestore: init schema: %w", err)
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetString returns the raw string stored at key, or "" if absent.
func (s *Store) GetString(key string) (string, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM state WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statestore: get %s: %w", key, err)
	}
	return value, nil
}

// SetString stores a raw string at key.
func (s *Store) SetString(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("statestore: set %s: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the value stored at key into out. If key is absent,
// out is left untouched and ok is false.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	raw, err := s.GetString(key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("statestore: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals value and stores it at key.
func (s *Store) SetJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("statestore: encode %s: %w", key, err)
	}
	return s.SetString(key, string(raw))
}

// GetLastSync returns the stored last-sync timestamp, or the zero time if
// none has been recorded.
func (s *Store) GetLastSync() (time.Time, error) {
	raw, err := s.GetString(KeyLastSync)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// SetLastSync records when the local change monitor last completed a pass.
func (s *Store) SetLastSync(t time.Time) error {
	return s.SetString(KeyLastSync, t.Format(time.RFC3339Nano))
}

// Cursor returns the persisted remote list-folder cursor, or "" if none
// has been stored yet (spec §4.7: "the cursor is
// advanced only after the batch completes").
func (s *Store) Cursor() (string, error) {
	return s.GetString(KeyCursor)
}

// SetCursor records the remote cursor through which the download engine has
// successfully applied all changes.
func (s *Store) SetCursor(cursor string) error {
	return s.SetString(KeyCursor, cursor)
}

// ExcludedItems returns the persisted selective-sync excluded-paths list.
func (s *Store) ExcludedItems() ([]string, error) {
	var items []string
	_, err := s.GetJSON(KeyExcludedItems, &items)
	return items, err
}

// SetExcludedItems persists the selective-sync excluded-paths list.
func (s *Store) SetExcludedItems(items []string) error {
	return s.SetJSON(KeyExcludedItems, items)
}

// DownloadErrors returns the set of remote paths that failed to download
// and should be retried on the next startup pass (spec §4.9).
func (s *Store) DownloadErrors() (map[string]string, error) {
	errs := make(map[string]string)
	_, err := s.GetJSON(KeyDownloadErrors, &errs)
	return errs, err
}

// SetDownloadErrors persists the download-error set.
func (s *Store) SetDownloadErrors(errs map[string]string) error {
	return s.SetJSON(KeyDownloadErrors, errs)
}

// PendingDownloads returns remote paths queued for download but not yet
// confirmed complete (spec §4.9's crash-recovery bookkeeping).
func (s *Store) PendingDownloads() ([]string, error) {
	var pending []string
	_, err := s.GetJSON(KeyPendingDownloads, &pending)
	return pending, err
}

func (s *Store) SetPendingDownloads(paths []string) error {
	return s.SetJSON(KeyPendingDownloads, paths)
}

// RecentChange is one entry of the bounded recent-change history surfaced
// to the status RPC (spec §6).
type RecentChange struct {
	Path string    `json:"path"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// RecentChanges returns the persisted history, most recent last, capped at
// RecentChangesLimit entries via a bounded LRU that evicts the oldest.
func (s *Store) RecentChanges() ([]RecentChange, error) {
	var changes []RecentChange
	_, err := s.GetJSON(KeyRecentChanges, &changes)
	return changes, err
}

// PushRecentChange appends an entry to the recent-change history,
// evicting the oldest once RecentChangesLimit is exceeded.
func (s *Store) PushRecentChange(change RecentChange) error {
	existing, err := s.RecentChanges()
	if err != nil {
		return err
	}

	cache, _ := lru.NewLRU[int, RecentChange](RecentChangesLimit, nil)
	for i, c := range existing {
		cache.Add(i, c)
	}
	cache.Add(len(existing), change)

	out := make([]RecentChange, 0, cache.Len())
	for _, k := range cache.Keys() {
		v, _ := cache.Peek(k)
		out = append(out, v)
	}
	return s.SetJSON(KeyRecentChanges, out)
}

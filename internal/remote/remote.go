// Package remote defines the collaborator contract spec §6 demands of
// the remote object store client, plus an HTTP implementation of it.
// Authentication, retry, and rate limiting live inside the client, as
// spec.md §1 designates them external to the sync core; the core only
// ever talks to the Client interface.
//
// Grounded on internal/syftsdk.SyftSDK, whose req/v3-based client
// (SyftSDK.New in sdk.go, DownloadFile in file_downloader.go) is reused
// here for the transport, reshaped around the Dropbox-style metadata and
// cursor operations this spec's core actually calls.
package remote

import (
	"context"
	"time"
)

// EntryKind distinguishes the three shapes a metadata result can take.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindFolder
	KindDeleted
)

// Metadata is the common shape returned by get_metadata, list_folder,
// and list_remote_changes entries (spec §6).
type Metadata struct {
	Kind EntryKind
	Path string // server casing, "/"-prefixed
	Rev  string // opaque revision string; "" for folders and deletions
	Hash string // Dropbox content hash; "" for folders and deletions
	Size int64
	ServerModified time.Time
}

func (m Metadata) IsFolder() bool  { return m.Kind == KindFolder }
func (m Metadata) IsDeleted() bool { return m.Kind == KindDeleted }

// ListResult is the shared shape of list_folder and list_remote_changes
// (spec §6).
type ListResult struct {
	Entries []Metadata
	Cursor  string
	HasMore bool
}

// WriteMode selects the upload write semantics (spec §4.6 step 3).
type WriteMode int

const (
	ModeAdd WriteMode = iota
	ModeOverwrite
	ModeUpdate
)

// UploadParams carries the write mode and, for ModeUpdate, the revision
// the server must still hold for the write to succeed.
type UploadParams struct {
	Mode        WriteMode
	ExpectedRev string
	Autorename  bool
}

// AccountInfo is the minimal account shape the core surfaces to the
// operator (spec §6 get_account_info).
type AccountInfo struct {
	DisplayName string
}

// SpaceUsage reports quota consumption (spec §6 get_space_usage).
type SpaceUsage struct {
	Used  int64
	Total int64
}

// Client is the collaborator contract spec §6 names. The sync core only
// depends on this interface; HTTPClient below is one implementation of
// it, grounded on the teacher's req/v3 SDK client.
type Client interface {
	GetMetadata(ctx context.Context, path string, includeDeleted bool) (*Metadata, error)
	ListFolder(ctx context.Context, path string, recursive, includeDeleted bool, limit int) (*ListResult, error)
	ListRemoteChanges(ctx context.Context, cursor string) (*ListResult, error)
	WaitForRemoteChanges(ctx context.Context, cursor string, timeout time.Duration) (bool, error)
	GetLatestCursor(ctx context.Context, path string) (string, error)

	Download(ctx context.Context, remote, local string) (*Metadata, error)
	Upload(ctx context.Context, local, remote string, params UploadParams) (*Metadata, error)
	Move(ctx context.Context, src, dest string, autorename bool) (*Metadata, error)
	MakeDir(ctx context.Context, path string, autorename bool) (*Metadata, error)
	Remove(ctx context.Context, path string, parentRev string) (*Metadata, error)

	ListRevisions(ctx context.Context, path string, limit int) ([]Metadata, error)
	GetSpaceUsage(ctx context.Context) (*SpaceUsage, error)
	GetAccountInfo(ctx context.Context, accountID string) (*AccountInfo, error)
}

// Package upload implements the Upload Engine (spec §4.6): it takes
// normalized local events and replays them against the remote object
// store, one event at a time per path, while the caller holds the
// global sync lock.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/hasher"
	"github.com/orbitflux/syncd/internal/pathutil"
	"github.com/orbitflux/syncd/internal/remote"
	"github.com/orbitflux/syncd/internal/synderr"
)

// maxConcurrency bounds how many events a batch processes in parallel,
// matching the teacher's worker-pool sizing in sync_engine_upload.go.
var maxConcurrency = 8

// stabilizeSample is how long a newly-created file's size must stay
// constant before the engine treats the write as finished (spec §4.6
// step 3, "import-in-progress guard").
var stabilizeSample = 500 * time.Millisecond

// Index is the subset of the revision index the upload engine needs.
type Index interface {
	Get(path string) (string, bool)
	Set(path, rev string)
	ClearPath(path string)
}

// Suppressor lets the engine mark paths whose next local event (caused
// by the engine's own writes, e.g. a server-side rename moving a file
// aside) should be dropped by the Local Event Handler.
type Suppressor interface {
	IgnoreOnce(remotePath string)
}

// Engine replays normalized local events against a remote.Client.
type Engine struct {
	root     string
	mapper   *pathutil.Mapper
	idx      Index
	client   remote.Client
	suppress Suppressor
	sessions *sessionRegistry
}

func New(root string, mapper *pathutil.Mapper, idx Index, client remote.Client, suppress Suppressor) *Engine {
	return &Engine{root: root, mapper: mapper, idx: idx, client: client, suppress: suppress, sessions: newSessionRegistry()}
}

// ActiveSessions reports uploads currently in flight, for status
// reporting.
func (e *Engine) ActiveSessions() []Session {
	return e.sessions.active()
}

// Apply replays a batch of normalized events, one worker per path, up
// to maxConcurrency concurrent workers. It returns once every event in
// the batch has been attempted; callers decide whether to advance
// last_sync based on the returned errors (spec §4.6: "after a batch
// completes successfully, advance last_sync").
func (e *Engine) Apply(ctx context.Context, batch []events.Event) []error {
	if len(batch) == 0 {
		return nil
	}

	errs := make([]error, len(batch))
	jobs := make(chan int, len(batch))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			errs[i] = e.applyOne(ctx, batch[i])
		}
	}

	workers := maxConcurrency
	if workers > len(batch) {
		workers = len(batch)
	}
	wg.Add(workers)
	for range workers {
		go worker()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return errs
}

func (e *Engine) applyOne(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.Deleted:
		return e.applyDeleted(ctx, ev)
	case events.Created:
		if ev.IsDirectory {
			return e.applyCreatedDir(ctx, ev)
		}
		return e.applyCreatedOrModifiedFile(ctx, ev)
	case events.Modified:
		if ev.IsDirectory {
			return nil // no-op per spec §4.6 step 4
		}
		return e.applyCreatedOrModifiedFile(ctx, ev)
	case events.Moved:
		return e.applyMoved(ctx, ev)
	default:
		return fmt.Errorf("upload: unknown event kind %q", ev.Kind)
	}
}

// applyDeleted implements spec §4.6 step 1.
func (e *Engine) applyDeleted(ctx context.Context, ev events.Event) error {
	remotePath, err := e.mapper.ToRemote(ev.SrcPath)
	if err != nil {
		return nil
	}
	parentRev, _ := e.idx.Get(remotePath)

	_, err = e.client.Remove(ctx, remotePath, parentRev)
	if err != nil {
		if synderr.Is(err, synderr.KindNotFound) {
			// already gone remotely; nothing to reconcile
		} else if synderr.Is(err, synderr.KindPathError) {
			slog.Warn("upload: remote changed since last sync, clearing rev", "path", remotePath)
		} else {
			e.idx.ClearPath(remotePath)
			return err
		}
	}
	e.idx.ClearPath(remotePath)
	return nil
}

// applyCreatedDir implements spec §4.6 step 2.
func (e *Engine) applyCreatedDir(ctx context.Context, ev events.Event) error {
	remotePath, err := e.mapper.ToRemote(ev.SrcPath)
	if err != nil {
		return nil
	}

	meta, err := e.client.GetMetadata(ctx, remotePath, false)
	if err != nil {
		return err
	}
	if meta != nil && meta.IsFolder() {
		e.idx.Set(remotePath, "folder")
		return nil
	}

	created, err := e.client.MakeDir(ctx, remotePath, true)
	if err != nil {
		return err
	}
	e.idx.Set(remotePath, "folder")
	_ = created
	return nil
}

// applyCreatedOrModifiedFile implements spec §4.6 steps 3 and 4.
func (e *Engine) applyCreatedOrModifiedFile(ctx context.Context, ev events.Event) error {
	localPath := ev.SrcPath
	remotePath, err := e.mapper.ToRemote(localPath)
	if err != nil {
		return nil
	}

	if ev.Kind == events.Created {
		if err := waitForStableSize(localPath, stabilizeSample); err != nil {
			return nil // file vanished before it stabilised; nothing to upload
		}
	}

	localHash, err := hasher.HashFile(localPath)
	if err != nil {
		return nil // file no longer exists
	}

	meta, err := e.client.GetMetadata(ctx, remotePath, false)
	if err != nil && !synderr.Is(err, synderr.KindNotFound) {
		return err
	}
	if meta != nil && meta.Hash == localHash {
		e.idx.Set(remotePath, meta.Rev)
		return nil
	}

	localRev, haveRev := e.idx.Get(remotePath)
	params := remote.UploadParams{Autorename: false}
	switch {
	case !haveRev:
		params.Mode = remote.ModeAdd
	case localRev == "folder":
		params.Mode = remote.ModeOverwrite
	default:
		params.Mode = remote.ModeUpdate
		params.ExpectedRev = localRev
	}

	session := e.sessions.start(remotePath)
	result, err := e.client.Upload(ctx, localPath, remotePath, params)
	e.sessions.finish(session.ID)
	if err != nil {
		if synderr.Is(err, synderr.KindNotFound) {
			slog.Debug("upload: remote path vanished mid-upload", "path", remotePath, "session", session.ID)
			return nil
		}
		return err
	}

	if result != nil && !strings.EqualFold(result.Path, remotePath) {
		return e.handleServerRename(ctx, remotePath, result)
	}

	if result != nil {
		e.idx.Set(remotePath, result.Rev)
		slog.Info("upload: sent", "path", remotePath, "size", humanize.Bytes(uint64(result.Size)))
	}
	return nil
}

// applyMoved implements spec §4.6 step 5.
func (e *Engine) applyMoved(ctx context.Context, ev events.Event) error {
	oldRemote, err := e.mapper.ToRemote(ev.SrcPath)
	if err != nil {
		oldRemote = ""
	}
	newRemote, err := e.mapper.ToRemote(ev.DestPath)
	if err != nil {
		return nil
	}

	if oldRemote != "" {
		e.idx.ClearPath(oldRemote)
	}

	if oldRemote == "" {
		return e.applyCreatedOrModifiedFile(ctx, events.NewCreated(ev.DestPath, ev.IsDirectory))
	}

	oldMeta, err := e.client.GetMetadata(ctx, oldRemote, false)
	if err != nil && !synderr.Is(err, synderr.KindNotFound) {
		return err
	}
	if oldMeta == nil {
		return e.applyCreatedOrModifiedFile(ctx, events.NewCreated(ev.DestPath, ev.IsDirectory))
	}

	result, err := e.client.Move(ctx, oldRemote, newRemote, true)
	if err != nil {
		return err
	}
	if result != nil && !strings.EqualFold(result.Path, newRemote) {
		return e.handleServerRename(ctx, newRemote, result)
	}
	if result != nil {
		e.idx.Set(newRemote, result.Rev)
	}
	return nil
}

// handleServerRename implements the "server-side rename detection"
// paragraph of spec §4.6: the server renamed the upload to dodge a
// conflict. The engine moves the local file aside to match, suppresses
// the local event that move will generate, records revs recursively,
// then re-fetches the originally-requested path to materialize the
// other side of the conflict.
func (e *Engine) handleServerRename(ctx context.Context, requestedRemote string, result *remote.Metadata) error {
	requestedLocal := e.mapper.ToLocal(requestedRemote)
	renamedLocal := e.mapper.ToLocal(result.Path)

	if e.suppress != nil {
		e.suppress.IgnoreOnce(result.Path)
	}
	if err := os.Rename(requestedLocal, renamedLocal); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("upload: move aside after server rename: %w", err)
	}

	e.idx.ClearPath(requestedRemote)
	if err := e.recordRevsRecursively(ctx, result.Path); err != nil {
		slog.Warn("upload: recording revs after server rename", "path", result.Path, "error", err)
	}

	conflictMeta, err := e.client.GetMetadata(ctx, requestedRemote, false)
	if err != nil {
		if synderr.Is(err, synderr.KindNotFound) {
			return nil
		}
		return err
	}
	if conflictMeta == nil {
		return nil
	}
	if _, err := e.client.Download(ctx, requestedRemote, requestedLocal); err != nil {
		return err
	}
	e.idx.Set(requestedRemote, conflictMeta.Rev)
	return nil
}

func (e *Engine) recordRevsRecursively(ctx context.Context, remotePath string) error {
	meta, err := e.client.GetMetadata(ctx, remotePath, false)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	e.idx.Set(remotePath, meta.Rev)
	if !meta.IsFolder() {
		return nil
	}
	listing, err := e.client.ListFolder(ctx, remotePath, true, false, 0)
	if err != nil {
		return err
	}
	for _, entry := range listing.Entries {
		rev := entry.Rev
		if entry.IsFolder() {
			rev = "folder"
		}
		e.idx.Set(entry.Path, rev)
	}
	return nil
}

// waitForStableSize polls a file's size until two consecutive samples
// `sample` apart agree, guarding against uploading a file still being
// written (spec §4.6 step 3).
func waitForStableSize(path string, sample time.Duration) error {
	prev, err := statSize(path)
	if err != nil {
		return err
	}
	for {
		time.Sleep(sample)
		cur, err := statSize(path)
		if err != nil {
			return err
		}
		if cur == prev {
			return nil
		}
		prev = cur
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

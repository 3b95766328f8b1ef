// Package syncengine wires the sync core's individual packages — the
// revision index, path mapper, exclusion filter, local watcher,
// normalizer, upload/download engines, and scheduler — into one daemon
// instance, the way internal/client/daemon.go assembles the teacher's
// equivalent components.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orbitflux/syncd/internal/config"
	"github.com/orbitflux/syncd/internal/download"
	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/ignorerules"
	"github.com/orbitflux/syncd/internal/localwatch"
	"github.com/orbitflux/syncd/internal/normalizer"
	"github.com/orbitflux/syncd/internal/pathutil"
	"github.com/orbitflux/syncd/internal/remote"
	"github.com/orbitflux/syncd/internal/revindex"
	"github.com/orbitflux/syncd/internal/scheduler"
	"github.com/orbitflux/syncd/internal/statestore"
	"github.com/orbitflux/syncd/internal/synclock"
	"github.com/orbitflux/syncd/internal/upload"
	"github.com/orbitflux/syncd/internal/utils"
)

// Engine owns every long-lived component of a running daemon and is the
// thing cmd/syncd constructs and starts.
type Engine struct {
	cfg      *config.Config
	lock     *synclock.Lock
	index    *revindex.Index
	store    *statestore.Store
	mapper   *pathutil.Mapper
	filter   *ignorerules.Filter
	watcher  *localwatch.Watcher
	handler  *localwatch.Handler
	client   remote.Client
	upload   *upload.Engine
	download *download.Engine
	monitor  *scheduler.Monitor
	lastSync *lastSyncTable
	events   chan events.Event
}

// New constructs every component from cfg but does not start anything;
// call Start to bring the daemon up.
func New(cfg *config.Config) (*Engine, error) {
	stateDir := filepath.Join(cfg.SyncRoot, ".syncd")
	if err := utils.EnsureDir(stateDir); err != nil {
		return nil, fmt.Errorf("syncengine: preparing state directory: %w", err)
	}

	lock := synclock.New(filepath.Join(stateDir, "syncd.lock"))
	if err := lock.TryLock(); err != nil {
		return nil, fmt.Errorf("syncengine: another instance is running: %w", err)
	}

	index := revindex.New(filepath.Join(stateDir, "revindex"))
	if err := index.Load(); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("syncengine: loading revision index: %w", err)
	}

	store, err := statestore.Open(filepath.Join(stateDir, "state.db"))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("syncengine: opening state store: %w", err)
	}

	filter := ignorerules.New(cfg.SyncRoot)
	filter.SetExcludedPaths(cfg.ExcludedPaths)
	if err := filter.ReloadMignore(); err != nil {
		slog.Warn("syncengine: loading .syncdignore", "error", err)
	}

	mapper := pathutil.New(cfg.SyncRoot)

	client, err := remote.NewHTTPClient(remote.Config{
		BaseURL:     cfg.RemoteURL,
		AccessToken: cfg.AccessToken,
	})
	if err != nil {
		store.Close()
		lock.Unlock()
		return nil, fmt.Errorf("syncengine: building remote client: %w", err)
	}

	watcher := localwatch.New(cfg.SyncRoot)
	watcher.SetFilter(func(path string) bool {
		remotePath, err := mapper.ToRemote(path)
		if err != nil {
			return true
		}
		return filter.ShouldExclude(remotePath)
	})

	suppress := &watcherSuppressor{watcher: watcher, mapper: mapper}

	uploadEngine := upload.New(cfg.SyncRoot, mapper, index, client, suppress)
	lastSync := newLastSyncTable()
	downloadEngine := download.New(cfg.SyncRoot, mapper, index, lastSync, filter, client, suppress)

	// queueSuppress brackets an in-flight download batch so the Handler
	// can drop the watcher echoes it produces (spec §4.4 "drop if in
	// queue_downloading"), independent of each individual write's
	// Watcher.IgnoreOnce registration.
	queueSuppress := events.NewSuppressSet()
	handler := localwatch.NewHandler(mapper, queueSuppress)
	downloader := &suppressingDownloader{inner: downloadEngine, suppress: queueSuppress}

	filtered := make(chan events.Event, eventBufferSize)

	e := &Engine{
		cfg:      cfg,
		lock:     lock,
		index:    index,
		store:    store,
		mapper:   mapper,
		filter:   filter,
		watcher:  watcher,
		handler:  handler,
		client:   client,
		upload:   uploadEngine,
		download: downloadEngine,
		lastSync: lastSync,
		events:   filtered,
	}

	reconciler := &reconciler{client: client, index: index, lastSync: lastSync}

	e.monitor = scheduler.New(
		client,
		reconciler,
		uploadEngine,
		downloader,
		store,
		filtered,
		e.normalize,
		func() bool { return dirExists(cfg.SyncRoot) },
	)
	handler.SetPhaseFunc(func() localwatch.Phase { return phaseForState(e.monitor.State()) })

	return e, nil
}

// eventBufferSize sizes the filtered-event channel between the watcher
// and the scheduler's local-uploader worker.
const eventBufferSize = 256

func phaseForState(s scheduler.State) localwatch.Phase {
	switch s {
	case scheduler.Startup:
		return localwatch.PhaseStartup
	case scheduler.Syncing, scheduler.Disconnected:
		return localwatch.PhaseSyncing
	default:
		return localwatch.PhasePaused
	}
}

// Start brings every background component up: the filesystem watcher,
// the Handler that filters its output, then the scheduler's workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.watcher.Start(ctx); err != nil {
		return fmt.Errorf("syncengine: starting watcher: %w", err)
	}
	go e.forwardFilteredEvents()

	if err := e.monitor.Start(ctx); err != nil {
		e.watcher.Stop()
		return fmt.Errorf("syncengine: starting scheduler: %w", err)
	}
	return nil
}

// forwardFilteredEvents drains the watcher's raw debounced stream through
// the Handler's phase/suppression gate and onto the channel the scheduler
// reads from. It exits once the watcher closes its output channel on Stop.
func (e *Engine) forwardFilteredEvents() {
	defer close(e.events)
	for ev := range e.watcher.Events() {
		if filtered, ok := e.handler.Filter(ev); ok {
			e.events <- filtered
		}
	}
}

// Stop tears the daemon down in the reverse order Start brought it up,
// then releases the instance lock so another process may acquire it.
func (e *Engine) Stop() {
	e.monitor.Stop()
	e.watcher.Stop()
	if err := e.index.Save(); err != nil {
		slog.Error("syncengine: saving revision index on shutdown", "error", err)
	}
	if err := e.store.Close(); err != nil {
		slog.Error("syncengine: closing state store", "error", err)
	}
	if err := e.lock.Unlock(); err != nil {
		slog.Error("syncengine: releasing instance lock", "error", err)
	}
}

// State reports the scheduler's current lifecycle state.
func (e *Engine) State() scheduler.State { return e.monitor.State() }

// Pause suspends outbound/inbound syncing without tearing the daemon down.
func (e *Engine) Pause() { e.monitor.Pause() }

// Resume un-pauses a paused daemon.
func (e *Engine) Resume() { e.monitor.Resume() }

// ActiveUploads reports uploads currently in flight, for status reporting.
func (e *Engine) ActiveUploads() []upload.Session { return e.upload.ActiveSessions() }

// ExcludedPaths returns the current selective-sync exclusion list.
func (e *Engine) ExcludedPaths() []string { return e.filter.ExcludedPaths() }

func (e *Engine) normalize(burst []events.Event) []events.Event {
	toRemote := func(local string) string {
		remotePath, err := e.mapper.ToRemote(local)
		if err != nil {
			return ""
		}
		return remotePath
	}
	return normalizer.Normalize(burst, toRemote, e.filter.ShouldExclude)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// watcherSuppressor adapts localwatch.Watcher's local-path IgnoreOnce to
// the upload/download engines' remote-path Suppressor contract.
type watcherSuppressor struct {
	watcher *localwatch.Watcher
	mapper  *pathutil.Mapper
}

func (s *watcherSuppressor) IgnoreOnce(remotePath string) {
	s.watcher.IgnoreOnce(s.mapper.ToLocal(remotePath))
}

// downloadApplier is download.Engine's exact method signature (using its
// named download.ProgressFunc parameter type, unlike scheduler.Downloader
// which declares an unnamed equivalent to avoid importing internal/download).
// suppressingDownloader is typed against this instead of scheduler.Downloader
// so both the real engine and a test fake can satisfy it.
type downloadApplier interface {
	Apply(ctx context.Context, entries []remote.Metadata, progress download.ProgressFunc) error
}

// suppressingDownloader wraps download.Engine to bracket every batch with
// queueSuppress.Begin/Done per entry, so Handler.Filter can recognize and
// drop the watcher echoes a download batch produces while it's running
// (spec §4.4 "drop if in queue_downloading"), on top of the per-write
// Watcher.IgnoreOnce registrations the engine itself makes.
type suppressingDownloader struct {
	inner    downloadApplier
	suppress *events.SuppressSet
}

func (d *suppressingDownloader) Apply(ctx context.Context, entries []remote.Metadata, progress func(done, total int)) error {
	for _, entry := range entries {
		d.suppress.Begin(entry.Path)
	}
	defer func() {
		for _, entry := range entries {
			d.suppress.Done(entry.Path)
		}
	}()
	return d.inner.Apply(ctx, entries, progress)
}

// lastSyncTable is an in-memory per-path last-synced-ctime table backing
// download.LastSync. It is deliberately not persisted: a restart simply
// re-derives "last synced" from the revision index and the filesystem on
// the next reconciliation pass, so this table only needs to survive
// within a single run.
type lastSyncTable struct {
	mu   sync.Mutex
	data map[string]time.Time
}

func newLastSyncTable() *lastSyncTable {
	return &lastSyncTable{data: make(map[string]time.Time)}
}

func (t *lastSyncTable) Get(path string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data[path]
}

func (t *lastSyncTable) Set(path string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[path] = at
}

func (t *lastSyncTable) Clear(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, path)
}

// reconciler performs the startup/resume full reconciliation pass
// (spec §4.9): list the whole remote tree and hand it to the download
// engine as the initial batch, seeding the revision index and last-sync
// table as entries are applied.
type reconciler struct {
	client   remote.Client
	index    *revindex.Index
	lastSync *lastSyncTable
}

func (r *reconciler) Reconcile(ctx context.Context) ([]remote.Metadata, error) {
	listing, err := r.client.ListFolder(ctx, "/", true, false, 0)
	if err != nil {
		return nil, fmt.Errorf("syncengine: listing remote tree: %w", err)
	}
	return listing.Entries, nil
}

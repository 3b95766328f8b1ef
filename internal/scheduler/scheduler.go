// Package scheduler implements the Monitor lifecycle and the five
// long-running workers spec §4.9 and §5 describe: connection-probe,
// startup, remote-listener, added-item-downloader, and local-uploader,
// coordinated by a single sync_lock (a plain sync.Mutex) so an upload batch and a
// download batch never interleave.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/remote"
	"github.com/orbitflux/syncd/internal/statestore"
)

// State is the Monitor's lifecycle state (spec §4.9).
type State int

const (
	Stopped State = iota
	Startup
	Syncing
	Paused
	Stopping
	Disconnected
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Startup:
		return "startup"
	case Syncing:
		return "syncing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Uploader is the subset of internal/upload.Engine the scheduler drives.
type Uploader interface {
	Apply(ctx context.Context, batch []events.Event) []error
}

// Downloader is the subset of internal/download.Engine the scheduler drives.
type Downloader interface {
	Apply(ctx context.Context, entries []remote.Metadata, progress func(done, total int)) error
}

// Reconciler performs the startup/resume full reconciliation pass: a
// diff of local state against remote state that seeds the rev index
// and returns the initial download batch.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]remote.Metadata, error)
}

// StateStore is the subset of internal/statestore.Store the scheduler
// needs to persist spec §6's cursor, last-sync, and per-path
// error/pending sets once a batch completes (spec §4.6 "after a batch
// completes successfully, advance last_sync"; §4.7 "the cursor is
// advanced only after the batch completes").
type StateStore interface {
	Cursor() (string, error)
	SetCursor(cursor string) error
	SetLastSync(t time.Time) error
	DownloadErrors() (map[string]string, error)
	SetDownloadErrors(errs map[string]string) error
	PendingDownloads() ([]string, error)
	SetPendingDownloads(paths []string) error
	PushRecentChange(change statestore.RecentChange) error
}

// connectionProbeInterval matches spec §5's "cheap remote ping every
// ~4s".
var connectionProbeInterval = 4 * time.Second

// ErrMissingRoot is fatal per spec §4.10: "Missing root directory is a
// fatal error; syncing must stop rather than recreate the root."
var ErrMissingRoot = errors.New("scheduler: sync root is missing")

// Monitor owns the five workers and the global sync_lock.
type Monitor struct {
	client     remote.Client
	reconciler Reconciler
	uploader   Uploader
	downloader Downloader
	store      StateStore
	localEvents <-chan events.Event
	normalize   func([]events.Event) []events.Event
	rootExists  func() bool

	// cursor is the in-memory mirror of statestore's sync.cursor key,
	// loaded once at Start and advanced only after a successful
	// download batch (spec §4.7, invariant 3).
	cursorMu sync.Mutex
	cursor   string

	// syncLock serializes apply-batches; it is held for the duration of
	// any upload or download batch (spec §5 "Mutual exclusion"). Go has
	// no built-in re-entrant mutex; the core never needs true recursion
	// here because each worker acquires it exactly once per batch and
	// releases it before starting the next, so a plain sync.Mutex gives
	// the same serialization guarantee the spec asks for.
	syncLock sync.Mutex

	state       atomic.Int32
	running     atomic.Bool
	connected   atomic.Bool
	pausedByUser atomic.Bool

	pathQueue  chan string
	stateMu    sync.Mutex
	onState    func(State)

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Monitor. normalize is applied to raw local event
// bursts before they reach the uploader (internal/normalizer.Normalize,
// partially applied over the path mapper and exclusion filter).
func New(client remote.Client, reconciler Reconciler, uploader Uploader, downloader Downloader, store StateStore, localEvents <-chan events.Event, normalize func([]events.Event) []events.Event, rootExists func() bool) *Monitor {
	m := &Monitor{
		client:      client,
		reconciler:  reconciler,
		uploader:    uploader,
		downloader:  downloader,
		store:       store,
		localEvents: localEvents,
		normalize:   normalize,
		rootExists:  rootExists,
		pathQueue:   make(chan string, 256),
		stop:        make(chan struct{}),
	}
	m.state.Store(int32(Stopped))
	return m
}

// OnStateChange registers a callback invoked whenever the Monitor's
// state transitions. Only one callback is kept.
func (m *Monitor) OnStateChange(fn func(State)) {
	m.stateMu.Lock()
	m.onState = fn
	m.stateMu.Unlock()
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
	m.stateMu.Lock()
	fn := m.onState
	m.stateMu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// State returns the Monitor's current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Paused reports whether the user has paused syncing.
func (m *Monitor) Paused() bool { return m.pausedByUser.Load() }

// Pause suspends syncing without stopping the workers (spec §4.9
// Running/Syncing ⇄ Running/Paused).
func (m *Monitor) Pause() {
	m.pausedByUser.Store(true)
	m.setState(Paused)
}

// Resume un-pauses syncing.
func (m *Monitor) Resume() {
	m.pausedByUser.Store(false)
	m.setState(Syncing)
}

// NotifyPathAdded feeds a newly-included (selective-sync) path to the
// added-item-downloader worker.
func (m *Monitor) NotifyPathAdded(path string) {
	select {
	case m.pathQueue <- path:
	default:
		slog.Warn("scheduler: path queue full, dropping", "path", path)
	}
}

// Start runs the startup reconciliation inline, then launches the four
// remaining workers (connection-probe, remote-listener,
// added-item-downloader, local-uploader) before returning, mirroring the teacher's
// SyncEngine.Start ("run sync once and wait before starting
// watcher/websocket").
func (m *Monitor) Start(ctx context.Context) error {
	if !m.rootExists() {
		return ErrMissingRoot
	}

	m.running.Store(true)
	m.setState(Startup)

	if err := m.runStartup(ctx); err != nil {
		if errors.Is(err, ErrMissingRoot) {
			m.running.Store(false)
			return err
		}
		slog.Error("scheduler: initial reconciliation failed", "error", err)
	}

	m.setCursor(m.loadCursor(ctx))

	m.setState(Syncing)
	m.connected.Store(true)

	workers := []func(context.Context){
		m.connectionProbeWorker,
		m.remoteListenerWorker,
		m.addedItemDownloaderWorker,
		m.localUploaderWorker,
	}
	m.wg.Add(len(workers))
	for _, worker := range workers {
		worker := worker
		go func() {
			defer m.wg.Done()
			worker(ctx)
		}()
	}
	return nil
}

// Stop implements spec §5's cancellation contract: clear running, wait
// for the lock to drain (current batch completes), then join workers.
func (m *Monitor) Stop() {
	m.setState(Stopping)
	m.running.Store(false)
	close(m.stop)

	// Wait for any in-flight batch to finish, then release immediately;
	// this is the "wait for the lock to drain" step.
	m.syncLock.Lock()
	m.syncLock.Unlock() //nolint:staticcheck // deliberate drain-then-release

	m.wg.Wait()
	m.setState(Stopped)
}

func (m *Monitor) runStartup(ctx context.Context) error {
	entries, err := m.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: startup reconciliation: %w", err)
	}
	if len(entries) > 0 {
		if err := m.applyDownload(ctx, entries); err != nil {
			slog.Error("scheduler: startup reconciliation download failed", "error", err)
		}
	}
	m.resumePendingDownloads(ctx)
	return nil
}

// resumePendingDownloads retries paths left over from a previous run
// that either never finished downloading or last failed (spec §4.9
// crash recovery, "startup reads download_errors/pending_downloads to
// retry/resume").
func (m *Monitor) resumePendingDownloads(ctx context.Context) {
	if m.store == nil {
		return
	}

	var paths []string
	if pending, err := m.store.PendingDownloads(); err == nil {
		paths = append(paths, pending...)
	} else {
		slog.Warn("scheduler: read pending downloads", "error", err)
	}
	if errs, err := m.store.DownloadErrors(); err == nil {
		for path := range errs {
			paths = append(paths, path)
		}
	} else {
		slog.Warn("scheduler: read download errors", "error", err)
	}
	if len(paths) == 0 {
		return
	}

	seen := make(map[string]bool, len(paths))
	var entries []remote.Metadata
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true
		meta, err := m.client.GetMetadata(ctx, path, false)
		if err != nil {
			slog.Warn("scheduler: resume pending download", "path", path, "error", err)
			continue
		}
		if meta == nil {
			continue
		}
		entries = append(entries, *meta)
	}
	if len(entries) == 0 {
		return
	}
	if err := m.applyDownload(ctx, entries); err != nil {
		slog.Error("scheduler: resume pending downloads failed", "error", err)
	}
}

// connectionProbeWorker pings the remote every ~4s and flips the
// connected flag, latching Disconnected on failure (spec §4.9).
func (m *Monitor) connectionProbeWorker(ctx context.Context) {
	ticker := time.NewTicker(connectionProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.running.Load() {
				continue
			}
			_, err := m.client.GetSpaceUsage(ctx)
			if err != nil {
				if m.connected.CompareAndSwap(true, false) {
					slog.Warn("scheduler: lost connection to remote")
					m.setState(Disconnected)
				}
				continue
			}
			if m.connected.CompareAndSwap(false, true) {
				slog.Info("scheduler: reconnected")
				m.setState(Startup)
				if err := m.runStartup(ctx); err != nil {
					slog.Error("scheduler: reconnect reconciliation failed", "error", err)
				}
				m.setState(Syncing)
			}
		}
	}
}

// loadCursor returns the persisted cursor if one exists, falling back to
// the remote's latest cursor only on the very first run (spec §4.7: a
// fresh install has nothing to replay, so it starts listening from now).
func (m *Monitor) loadCursor(ctx context.Context) string {
	if m.store != nil {
		if cursor, err := m.store.Cursor(); err == nil && cursor != "" {
			return cursor
		} else if err != nil {
			slog.Warn("scheduler: read cursor", "error", err)
		}
	}
	cursor, err := m.client.GetLatestCursor(ctx, "/")
	if err != nil {
		slog.Warn("scheduler: get latest cursor", "error", err)
	}
	return cursor
}

func (m *Monitor) getCursor() string {
	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()
	return m.cursor
}

// setCursor advances the in-memory and persisted cursor together. It is
// only ever called after a download batch has applied successfully
// (invariant 3: "if the batch fails, last_cursor is unchanged").
func (m *Monitor) setCursor(cursor string) {
	m.cursorMu.Lock()
	m.cursor = cursor
	m.cursorMu.Unlock()
	if m.store == nil || cursor == "" {
		return
	}
	if err := m.store.SetCursor(cursor); err != nil {
		slog.Warn("scheduler: persist cursor", "error", err)
	}
}

// remoteListenerWorker long-polls for remote changes and applies them
// (spec §5 "remote-listener | long-poll remote changes, apply | cursor poll").
func (m *Monitor) remoteListenerWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}

		if !m.running.Load() || m.pausedByUser.Load() || !m.connected.Load() {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
			continue
		}

		cursor := m.getCursor()
		changed, err := m.client.WaitForRemoteChanges(ctx, cursor, 30*time.Second)
		if err != nil || !changed {
			continue
		}

		for {
			result, err := m.client.ListRemoteChanges(ctx, cursor)
			if err != nil {
				slog.Warn("scheduler: list remote changes", "error", err)
				break
			}
			if len(result.Entries) == 0 {
				m.setCursor(result.Cursor)
				break
			}
			if err := m.applyDownload(ctx, result.Entries); err != nil {
				// Leave the cursor at its previous value so this page
				// replays on the next long-poll (invariant 3).
				slog.Error("scheduler: apply remote changes", "error", err)
				break
			}
			cursor = result.Cursor
			m.setCursor(cursor)
			if !result.HasMore {
				break
			}
		}
	}
}

// addedItemDownloaderWorker drains the path queue fed by
// NotifyPathAdded (spec §5 "added-item-downloader | drains newly-
// included paths | path queue").
func (m *Monitor) addedItemDownloaderWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case path, ok := <-m.pathQueue:
			if !ok {
				return
			}
			if !m.running.Load() {
				continue
			}
			meta, err := m.client.GetMetadata(ctx, path, false)
			if err != nil {
				slog.Warn("scheduler: get metadata for added path", "path", path, "error", err)
				continue
			}
			if meta == nil {
				continue
			}
			if err := m.applyDownload(ctx, []remote.Metadata{*meta}); err != nil {
				slog.Error("scheduler: apply added path", "path", path, "error", err)
			}
		}
	}
}

// localUploaderWorker drains normalized local events (spec §5
// "local-uploader | drains normalized local events | event queue").
func (m *Monitor) localUploaderWorker(ctx context.Context) {
	const burstWindow = 300 * time.Millisecond

	var pending []events.Event
	timer := time.NewTimer(burstWindow)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := m.normalize(pending)
		pending = nil
		if len(batch) == 0 {
			return
		}
		if !m.running.Load() || m.pausedByUser.Load() {
			return
		}
		m.applyUpload(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-m.stop:
			flush()
			return
		case ev, ok := <-m.localEvents:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if !timerRunning {
				timer.Reset(burstWindow)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		}
	}
}

// applyDownload runs one download batch under sync_lock and keeps
// pending_downloads/download_errors (spec §6) in sync with the outcome:
// paths are marked pending before the attempt, moved into
// download_errors on failure, and cleared from both on success (spec
// §4.9 crash-recovery bookkeeping).
func (m *Monitor) applyDownload(ctx context.Context, entries []remote.Metadata) error {
	m.syncLock.Lock()
	defer m.syncLock.Unlock()

	paths := metadataPaths(entries)
	if m.store != nil {
		pending, _ := m.store.PendingDownloads()
		if setErr := m.store.SetPendingDownloads(mergePaths(pending, paths)); setErr != nil {
			slog.Warn("scheduler: persist pending downloads", "error", setErr)
		}
	}

	err := m.downloader.Apply(ctx, entries, nil)
	if m.store == nil {
		return err
	}

	if err != nil {
		errs, getErr := m.store.DownloadErrors()
		if getErr != nil || errs == nil {
			errs = make(map[string]string)
		}
		for _, path := range paths {
			errs[path] = err.Error()
		}
		if setErr := m.store.SetDownloadErrors(errs); setErr != nil {
			slog.Warn("scheduler: persist download errors", "error", setErr)
		}
		return err
	}

	if pending, getErr := m.store.PendingDownloads(); getErr == nil {
		if updated := removePaths(pending, paths); len(updated) != len(pending) {
			if setErr := m.store.SetPendingDownloads(updated); setErr != nil {
				slog.Warn("scheduler: clear pending downloads", "error", setErr)
			}
		}
	}
	if errs, getErr := m.store.DownloadErrors(); getErr == nil && len(errs) > 0 {
		changed := false
		for _, path := range paths {
			if _, ok := errs[path]; ok {
				delete(errs, path)
				changed = true
			}
		}
		if changed {
			if setErr := m.store.SetDownloadErrors(errs); setErr != nil {
				slog.Warn("scheduler: clear download errors", "error", setErr)
			}
		}
	}
	for _, entry := range entries {
		m.pushRecentChange(entry.Path, downloadChangeKind(entry))
	}
	return nil
}

// applyUpload runs one upload batch under sync_lock. last_sync only
// advances once every event in the batch has been applied (spec §4.6:
// "after a batch completes successfully, advance last_sync"; invariant
// 2) — a partially-failed batch leaves last_sync untouched so the
// failed paths are retried on the next pass.
func (m *Monitor) applyUpload(ctx context.Context, batch []events.Event) {
	m.syncLock.Lock()
	defer m.syncLock.Unlock()

	errs := m.uploader.Apply(ctx, batch)
	failed := false
	for i, err := range errs {
		if err != nil {
			failed = true
			slog.Error("scheduler: upload batch entry failed", "path", batch[i].Path(), "error", err)
		}
	}
	if m.store == nil || failed {
		return
	}
	if err := m.store.SetLastSync(time.Now()); err != nil {
		slog.Warn("scheduler: persist last sync", "error", err)
	}
	for _, ev := range batch {
		m.pushRecentChange(ev.Path(), string(ev.Kind))
	}
}

func (m *Monitor) pushRecentChange(path, kind string) {
	if m.store == nil {
		return
	}
	change := statestore.RecentChange{Path: path, Kind: kind, At: time.Now()}
	if err := m.store.PushRecentChange(change); err != nil {
		slog.Warn("scheduler: persist recent change", "error", err)
	}
}

func downloadChangeKind(entry remote.Metadata) string {
	switch entry.Kind {
	case remote.KindDeleted:
		return "deleted"
	case remote.KindFolder:
		return "folder"
	default:
		return "file"
	}
}

func metadataPaths(entries []remote.Metadata) []string {
	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = entry.Path
	}
	return paths
}

// mergePaths returns the union of existing and added, preserving order
// and dropping duplicates.
func mergePaths(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, p := range existing {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range added {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// removePaths returns paths with every entry in remove dropped.
func removePaths(paths, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, p := range remove {
		drop[p] = true
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !drop[p] {
			out = append(out, p)
		}
	}
	return out
}

// Package localwatch implements the Local Event Handler (spec §4.4): a
// recursive filesystem watcher that debounces raw write bursts into a
// stream of canonical events.Event values, filtered against the
// suppression set and the current daemon phase before being handed to the
// normalizer.
//
// Grounded on internal/client/sync/file_watcher.go, whose
// rjeczalik/notify + debounce + ignore-once + polling-fallback design is
// reused near verbatim and adapted to emit events.Event instead of raw
// notify.EventInfo.
package localwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/orbitflux/syncd/internal/events"
)

const (
	// DefaultIgnoreTimeout bounds how long an IgnoreOnce registration
	// remains live before it is swept as stale.
	DefaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 256
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterFunc reports whether an incoming raw path should be dropped before
// debouncing (e.g. ignorerules.Filter.ShouldExclude).
type FilterFunc func(path string) bool

// Watcher watches a directory tree recursively and emits debounced
// events.Event values on Events().
type Watcher struct {
	root string

	rawEvents chan notify.EventInfo
	out       chan events.Event

	usingNotify bool

	ignore   map[string]time.Time
	ignoreMu sync.RWMutex

	pending    map[string]notify.EventInfo
	timers     map[string]*time.Timer
	debounceMu sync.Mutex

	cleanupInterval time.Duration
	debounceTimeout time.Duration

	filter   FilterFunc
	filterMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup
}

func New(root string) *Watcher {
	return &Watcher{
		root:            root,
		ignore:          make(map[string]time.Time),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		cleanupInterval: defaultCleanupInterval,
		debounceTimeout: defaultDebounceTimeout,
		done:            make(chan struct{}),
	}
}

func (w *Watcher) SetDebounceTimeout(d time.Duration) { w.debounceTimeout = d }

// SetFilter installs the callback used to drop raw events before
// debouncing (excluded paths never even enter the pending-event map).
func (w *Watcher) SetFilter(f FilterFunc) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	w.filter = f
}

// Start begins watching. It never blocks; events arrive on Events().
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("localwatch: starting", "root", w.root)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.out = make(chan events.Event, eventBufferSize)

	recursive := w.root + "/..."
	if err := notify.Watch(recursive, w.rawEvents, notify.All); err != nil {
		if fallbackErr := notify.Watch(w.root, w.rawEvents, notify.All); fallbackErr != nil {
			slog.Warn("localwatch: notify backend unavailable, polling", "root", w.root, "error", err)
			w.wg.Add(1)
			go w.pollForChanges(ctx)
		} else {
			w.usingNotify = true
			slog.Warn("localwatch: recursive watch failed, using non-recursive", "root", w.root, "error", err)
		}
	} else {
		w.usingNotify = true
	}

	w.wg.Add(1)
	go w.filterLoop(ctx)

	w.wg.Add(1)
	go w.cleanupLoop(ctx)

	return nil
}

func (w *Watcher) Stop() {
	slog.Info("localwatch: stopping")
	close(w.done)
	if w.usingNotify && w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()
	slog.Info("localwatch: stopped")
}

// Events returns the channel of debounced, filtered canonical events.
func (w *Watcher) Events() <-chan events.Event { return w.out }

// IgnoreOnce suppresses the next event seen for path, for the default
// grace window. Used by the upload engine to avoid re-syncing its own
// writes to the revision index or conflict-copy renames.
func (w *Watcher) IgnoreOnce(path string) {
	w.IgnoreOnceWithTimeout(path, DefaultIgnoreTimeout)
}

func (w *Watcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

func (w *Watcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	expiry, ok := w.ignore[path]
	if !ok {
		return false
	}
	delete(w.ignore, path)
	return time.Now().Before(expiry)
}

type pollEvent struct {
	path  string
	event notify.Event
}

func (e pollEvent) Event() notify.Event { return e.event }
func (e pollEvent) Path() string        { return e.path }
func (e pollEvent) Sys() interface{}    { return nil }

type fileSig struct {
	modTime int64
	size    int64
	isDir   bool
}

// pollForChanges is the fallback used when the native notify backend is
// unavailable (spec §4.4 "Polling fallback").
func (w *Watcher) pollForChanges(ctx context.Context) {
	defer w.wg.Done()

	const interval = 200 * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snapshot := make(map[string]fileSig)
	scan := func() {
		seen := make(map[string]struct{})
		_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == w.root {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			sig := fileSig{modTime: info.ModTime().UnixNano(), size: info.Size(), isDir: d.IsDir()}
			seen[path] = struct{}{}
			prev, existed := snapshot[path]
			snapshot[path] = sig
			ev := notify.Write
			if !existed {
				ev = notify.Create
			} else if prev == sig {
				return nil
			}
			select {
			case w.rawEvents <- pollEvent{path: path, event: ev}:
			default:
			}
			return nil
		})
		for path := range snapshot {
			if _, ok := seen[path]; !ok {
				delete(snapshot, path)
				select {
				case w.rawEvents <- pollEvent{path: path, event: notify.Remove}:
				default:
				}
			}
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			scan()
		}
	}
}

func (w *Watcher) filterLoop(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			if ev, ok := w.pending[path]; ok {
				w.emit(ev)
			}
		}
		w.debounceMu.Unlock()
		w.wg.Done()
		close(w.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.rawEvents:
			if !ok {
				return
			}

			w.filterMu.RLock()
			filter := w.filter
			w.filterMu.RUnlock()
			if filter != nil && filter(ev.Path()) {
				continue
			}

			w.debounce(ev)
		}
	}
}

func (w *Watcher) debounce(ev notify.EventInfo) {
	path := ev.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
		delete(w.timers, path)
	}
	w.pending[path] = ev
	w.timers[path] = time.AfterFunc(w.debounceTimeout, func() { w.flush(path) })
}

func (w *Watcher) flush(path string) {
	w.debounceMu.Lock()
	ev, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.debounceMu.Unlock()
	if !ok {
		return
	}

	if w.consumeIgnore(path) {
		slog.Debug("localwatch: suppressed ignore-once event", "path", path)
		return
	}

	w.emit(ev)
}

func (w *Watcher) emit(ev notify.EventInfo) {
	canonical, ok := translate(ev)
	if !ok {
		return
	}
	select {
	case w.out <- canonical:
		slog.Debug("localwatch", "kind", canonical.Kind, "path", canonical.Path())
	default:
		slog.Warn("localwatch: event channel full, dropping", "path", ev.Path())
	}
}

// translate maps a raw notify event onto the canonical Kind set. Renames
// arrive from notify as paired Rename events on the old and new paths;
// the watcher treats each half as a Deleted/Created pair and leaves move
// reconstruction to the normalizer (spec §4.5), which has visibility into
// the whole recent-event window that a single raw event does not.
func translate(ev notify.EventInfo) (events.Event, bool) {
	isDir, exists := false, false
	if info, err := os.Stat(ev.Path()); err == nil {
		isDir, exists = info.IsDir(), true
	}

	switch ev.Event() {
	case notify.Create:
		return events.NewCreated(ev.Path(), isDir), true
	case notify.Write:
		return events.NewModified(ev.Path(), isDir), true
	case notify.Rename:
		// The half whose path still exists is the destination.
		if exists {
			return events.NewCreated(ev.Path(), isDir), true
		}
		return events.NewDeleted(ev.Path(), isDir), true
	case notify.Remove:
		return events.NewDeleted(ev.Path(), isDir), true
	default:
		return events.Event{}, false
	}
}

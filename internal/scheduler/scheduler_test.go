package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/remote"
	"github.com/orbitflux/syncd/internal/statestore"
)

type fakeClient struct {
	remote.Client
	mu      sync.Mutex
	cursor  string
	changed bool
}

func (f *fakeClient) GetSpaceUsage(ctx context.Context) (*remote.SpaceUsage, error) {
	return &remote.SpaceUsage{}, nil
}

func (f *fakeClient) GetLatestCursor(ctx context.Context, path string) (string, error) {
	return "cursor1", nil
}

func (f *fakeClient) WaitForRemoteChanges(ctx context.Context, cursor string, timeout time.Duration) (bool, error) {
	time.Sleep(time.Millisecond)
	return false, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, path string, includeDeleted bool) (*remote.Metadata, error) {
	return &remote.Metadata{Kind: remote.KindFile, Path: path}, nil
}

type fakeReconciler struct {
	mu      sync.Mutex
	calls   int
	entries []remote.Metadata
	err     error
}

func (r *fakeReconciler) Reconcile(ctx context.Context) ([]remote.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.entries, r.err
}

type fakeUploader struct {
	mu      sync.Mutex
	batches [][]events.Event
}

func (u *fakeUploader) Apply(ctx context.Context, batch []events.Event) []error {
	u.mu.Lock()
	u.batches = append(u.batches, batch)
	u.mu.Unlock()
	return make([]error, len(batch))
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDownloader) Apply(ctx context.Context, entries []remote.Metadata, progress func(int, int)) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	return nil
}

// fakeStateStore is an in-memory stand-in for *statestore.Store so these
// tests can assert on what the scheduler persists without touching SQLite.
type fakeStateStore struct {
	mu               sync.Mutex
	cursor           string
	lastSync         time.Time
	downloadErrs     map[string]string
	pendingDownloads []string
	recentChanges    []statestore.RecentChange
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{downloadErrs: make(map[string]string)}
}

func (s *fakeStateStore) Cursor() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *fakeStateStore) SetCursor(cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

func (s *fakeStateStore) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	return nil
}

func (s *fakeStateStore) DownloadErrors() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.downloadErrs))
	for k, v := range s.downloadErrs {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStateStore) SetDownloadErrors(errs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadErrs = errs
	return nil
}

func (s *fakeStateStore) PendingDownloads() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pendingDownloads))
	copy(out, s.pendingDownloads)
	return out, nil
}

func (s *fakeStateStore) SetPendingDownloads(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDownloads = paths
	return nil
}

func (s *fakeStateStore) PushRecentChange(change statestore.RecentChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentChanges = append(s.recentChanges, change)
	return nil
}

func TestStart_RunsStartupReconciliationBeforeReturning(t *testing.T) {
	reconciler := &fakeReconciler{}
	m := New(&fakeClient{}, reconciler, &fakeUploader{}, &fakeDownloader{}, newFakeStateStore(), make(chan events.Event), identity, alwaysTrue)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	reconciler.mu.Lock()
	calls := reconciler.calls
	reconciler.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, Syncing, m.State())
}

func TestStart_FailsFastOnMissingRoot(t *testing.T) {
	m := New(&fakeClient{}, &fakeReconciler{}, &fakeUploader{}, &fakeDownloader{}, newFakeStateStore(), make(chan events.Event), identity, func() bool { return false })

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, ErrMissingRoot)
}

func TestPauseResume_TogglesState(t *testing.T) {
	m := New(&fakeClient{}, &fakeReconciler{}, &fakeUploader{}, &fakeDownloader{}, newFakeStateStore(), make(chan events.Event), identity, alwaysTrue)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	m.Pause()
	assert.True(t, m.Paused())
	assert.Equal(t, Paused, m.State())

	m.Resume()
	assert.False(t, m.Paused())
	assert.Equal(t, Syncing, m.State())
}

func TestLocalUploaderWorker_FlushesBatchAfterBurstWindow(t *testing.T) {
	uploader := &fakeUploader{}
	localEvents := make(chan events.Event, 4)
	m := New(&fakeClient{}, &fakeReconciler{}, uploader, &fakeDownloader{}, newFakeStateStore(), localEvents, identity, alwaysTrue)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	localEvents <- events.NewCreated("/a.txt", false)
	localEvents <- events.NewCreated("/b.txt", false)

	assert.Eventually(t, func() bool {
		uploader.mu.Lock()
		defer uploader.mu.Unlock()
		return len(uploader.batches) == 1 && len(uploader.batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStop_JoinsAllWorkers(t *testing.T) {
	m := New(&fakeClient{}, &fakeReconciler{}, &fakeUploader{}, &fakeDownloader{}, newFakeStateStore(), make(chan events.Event), identity, alwaysTrue)
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
	assert.Equal(t, Stopped, m.State())
}

func TestApplyUpload_AdvancesLastSyncOnlyOnFullSuccess(t *testing.T) {
	uploader := &fakeUploader{}
	store := newFakeStateStore()
	localEvents := make(chan events.Event, 4)
	m := New(&fakeClient{}, &fakeReconciler{}, uploader, &fakeDownloader{}, store, localEvents, identity, alwaysTrue)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	localEvents <- events.NewCreated("/a.txt", false)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return !store.lastSync.IsZero() && len(store.recentChanges) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestApplyDownload_PersistsCursorAndClearsPendingOnSuccess(t *testing.T) {
	reconciler := &fakeReconciler{entries: []remote.Metadata{{Kind: remote.KindFile, Path: "/a.txt"}}}
	downloader := &fakeDownloader{}
	store := newFakeStateStore()
	m := New(&fakeClient{}, reconciler, &fakeUploader{}, downloader, store, make(chan events.Event), identity, alwaysTrue)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	store.mu.Lock()
	cursor := store.cursor
	pending := append([]string(nil), store.pendingDownloads...)
	recent := len(store.recentChanges)
	store.mu.Unlock()

	assert.Equal(t, "cursor1", cursor)
	assert.Empty(t, pending)
	assert.Equal(t, 1, recent)
}

func TestApplyDownload_LeavesCursorAndMarksErrorOnFailure(t *testing.T) {
	reconciler := &fakeReconciler{entries: []remote.Metadata{{Kind: remote.KindFile, Path: "/broken.txt"}}}
	downloader := &fakeDownloader{err: assert.AnError}
	store := newFakeStateStore()
	store.cursor = "cursor0"
	m := New(&fakeClient{}, reconciler, &fakeUploader{}, downloader, store, make(chan events.Event), identity, alwaysTrue)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	store.mu.Lock()
	cursor := store.cursor
	_, marked := store.downloadErrs["/broken.txt"]
	pending := append([]string(nil), store.pendingDownloads...)
	store.mu.Unlock()

	assert.Equal(t, "cursor0", cursor, "a failed batch must leave last_cursor unchanged so it replays")
	assert.True(t, marked)
	assert.Contains(t, pending, "/broken.txt")
}

func identity(in []events.Event) []events.Event { return in }
func alwaysTrue() bool                           { return true }

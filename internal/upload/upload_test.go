package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/pathutil"
	"github.com/orbitflux/syncd/internal/remote"
	"github.com/orbitflux/syncd/internal/synderr"
)

type fakeIndex struct {
	revs map[string]string
}

func newFakeIndex() *fakeIndex { return &fakeIndex{revs: map[string]string{}} }

func (f *fakeIndex) Get(path string) (string, bool) { r, ok := f.revs[path]; return r, ok }
func (f *fakeIndex) Set(path, rev string)            { f.revs[path] = rev }
func (f *fakeIndex) ClearPath(path string)            { delete(f.revs, path) }

type fakeSuppressor struct{ ignored []string }

func (s *fakeSuppressor) IgnoreOnce(remotePath string) { s.ignored = append(s.ignored, remotePath) }

type fakeClient struct {
	remote.Client
	metadata map[string]*remote.Metadata
	uploaded map[string]remote.UploadParams
	removed  []string
	moved    [][2]string
	madeDirs []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{metadata: map[string]*remote.Metadata{}, uploaded: map[string]remote.UploadParams{}}
}

func (f *fakeClient) GetMetadata(ctx context.Context, path string, includeDeleted bool) (*remote.Metadata, error) {
	m, ok := f.metadata[path]
	if !ok {
		return nil, nil // as HTTPClient.GetMetadata does for a 404
	}
	return m, nil
}

func (f *fakeClient) Upload(ctx context.Context, local, remotePath string, params remote.UploadParams) (*remote.Metadata, error) {
	f.uploaded[remotePath] = params
	m := &remote.Metadata{Kind: remote.KindFile, Path: remotePath, Rev: "rev-" + remotePath}
	f.metadata[remotePath] = m
	return m, nil
}

func (f *fakeClient) MakeDir(ctx context.Context, path string, autorename bool) (*remote.Metadata, error) {
	f.madeDirs = append(f.madeDirs, path)
	m := &remote.Metadata{Kind: remote.KindFolder, Path: path}
	f.metadata[path] = m
	return m, nil
}

func (f *fakeClient) Remove(ctx context.Context, path string, parentRev string) (*remote.Metadata, error) {
	f.removed = append(f.removed, path)
	if _, ok := f.metadata[path]; !ok {
		return nil, synderr.New(synderr.KindNotFound, path, nil)
	}
	delete(f.metadata, path)
	return nil, nil
}

func (f *fakeClient) Move(ctx context.Context, src, dest string, autorename bool) (*remote.Metadata, error) {
	f.moved = append(f.moved, [2]string{src, dest})
	m := &remote.Metadata{Kind: remote.KindFile, Path: dest, Rev: "rev-" + dest}
	f.metadata[dest] = m
	delete(f.metadata, src)
	return m, nil
}

func (f *fakeClient) ListFolder(ctx context.Context, path string, recursive, includeDeleted bool, limit int) (*remote.ListResult, error) {
	return &remote.ListResult{}, nil
}

func setup(t *testing.T) (*Engine, *fakeClient, *fakeIndex, string) {
	t.Helper()
	root := t.TempDir()
	mapper := pathutil.New(root)
	client := newFakeClient()
	idx := newFakeIndex()
	eng := New(root, mapper, idx, client, &fakeSuppressor{})
	return eng, client, idx, root
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestApplyCreatedFile_NoLocalRevUsesAdd(t *testing.T) {
	stabilizeSample = time.Millisecond
	defer func() { stabilizeSample = 500 * time.Millisecond }()

	eng, client, idx, root := setup(t)
	local := filepath.Join(root, "a.txt")
	writeFile(t, local, "hello")

	errs := eng.Apply(context.Background(), []events.Event{events.NewCreated(local, false)})
	require.Len(t, errs, 1)
	require.NoError(t, errs[0])

	params, ok := client.uploaded["/a.txt"]
	require.True(t, ok)
	assert.Equal(t, remote.ModeAdd, params.Mode)
	rev, _ := idx.Get("/a.txt")
	assert.Equal(t, "rev-/a.txt", rev)
}

func TestApplyModifiedFile_ExistingRevUsesUpdate(t *testing.T) {
	stabilizeSample = time.Millisecond
	defer func() { stabilizeSample = 500 * time.Millisecond }()

	eng, client, idx, root := setup(t)
	local := filepath.Join(root, "a.txt")
	writeFile(t, local, "hello")
	idx.Set("/a.txt", "rev-old")

	errs := eng.Apply(context.Background(), []events.Event{events.NewModified(local, false)})
	require.NoError(t, errs[0])

	params := client.uploaded["/a.txt"]
	assert.Equal(t, remote.ModeUpdate, params.Mode)
	assert.Equal(t, "rev-old", params.ExpectedRev)
}

func TestApplyCreatedDir_RecordsFolderRev(t *testing.T) {
	eng, client, idx, root := setup(t)
	local := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(local, 0o755))

	errs := eng.Apply(context.Background(), []events.Event{events.NewCreated(local, true)})
	require.NoError(t, errs[0])

	assert.Contains(t, client.madeDirs, "/sub")
	rev, _ := idx.Get("/sub")
	assert.Equal(t, "folder", rev)
}

func TestApplyDeleted_ClearsRevAndIgnoresNotFound(t *testing.T) {
	eng, client, idx, root := setup(t)
	idx.Set("/gone.txt", "rev-1")

	errs := eng.Apply(context.Background(), []events.Event{events.NewDeleted(filepath.Join(root, "gone.txt"), false)})
	require.NoError(t, errs[0])

	assert.Contains(t, client.removed, "/gone.txt")
	_, ok := idx.Get("/gone.txt")
	assert.False(t, ok)
}

func TestApplyModifiedDirectory_IsNoop(t *testing.T) {
	eng, client, _, root := setup(t)
	local := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(local, 0o755))

	errs := eng.Apply(context.Background(), []events.Event{events.NewModified(local, true)})
	require.NoError(t, errs[0])
	assert.Empty(t, client.uploaded)
}

func TestApplyMoved_ClearsOldPathClearsRev(t *testing.T) {
	stabilizeSample = time.Millisecond
	defer func() { stabilizeSample = 500 * time.Millisecond }()

	eng, client, idx, root := setup(t)
	idx.Set("/old.txt", "rev-old")
	client.metadata["/old.txt"] = &remote.Metadata{Kind: remote.KindFile, Path: "/old.txt", Rev: "rev-old"}

	newLocal := filepath.Join(root, "new.txt")
	writeFile(t, newLocal, "hi")

	errs := eng.Apply(context.Background(), []events.Event{
		events.NewMoved(filepath.Join(root, "old.txt"), newLocal, false),
	})
	require.NoError(t, errs[0])

	assert.Equal(t, [][2]string{{"/old.txt", "/new.txt"}}, client.moved)
	_, ok := idx.Get("/old.txt")
	assert.False(t, ok)
}

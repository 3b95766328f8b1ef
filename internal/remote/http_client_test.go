package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitflux/syncd/internal/synderr"
)

func TestGetMetadata_ReturnsParsedMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(metadataWire{Tag: "file", Path: "/a.txt", Rev: "rev1", ContentHash: "hash1", Size: 42})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	meta, err := c.GetMetadata(context.Background(), "/a.txt", false)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "rev1", meta.Rev)
	assert.Equal(t, int64(42), meta.Size)
	assert.False(t, meta.IsFolder())
}

func TestGetMetadata_NotFoundReturnsNilNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(apiError{ErrorSummary: "path/not_found/"})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	meta, err := c.GetMetadata(context.Background(), "/missing.txt", false)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestUpload_PathConflictClassifiesAsPathError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apiError{ErrorSummary: "path/conflict/"})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), "/tmp/local.txt", "/a.txt", UploadParams{Mode: ModeUpdate, ExpectedRev: "rev1"})
	require.Error(t, err)
	assert.True(t, synderr.Is(err, synderr.KindPathError))
}

func TestWaitForRemoteChanges_ReturnsChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"changes": true})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	changed, err := c.WaitForRemoteChanges(context.Background(), "cursor1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	assert.Error(t, err)
}

package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
)

// testClient builds a client against the given server with retry waits
// shortened so transient-path tests stay fast.
func testClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, "test-key")
	c.http.SetCommonRetryFixedInterval(time.Millisecond)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- ListCollections ---

func TestListCollections_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/collections", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		writeJSON(w, http.StatusOK, map[string]any{
			"collections": []Collection{
				{ID: "c1", Name: "Projects"},
				{ID: "c2", Name: "Reading List"},
			},
		})
	}))
	defer srv.Close()

	cols, err := testClient(srv).ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "c1", cols[0].ID)
	assert.Equal(t, "Reading List", cols[1].Name)
}

func TestListCollections_ServerError_IsTransient(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db down"})
	}))
	defer srv.Close()

	_, err := testClient(srv).ListCollections(context.Background())
	require.Error(t, err)
	assert.True(t, kberrors.IsTransient(err), "5xx should classify as transient, got %v", err)
	assert.Equal(t, int32(1+retryCount), calls.Load(), "5xx should be retried in-request")
}

func TestListCollections_RecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "warming up"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"collections": []Collection{{ID: "c1", Name: "A"}}})
	}))
	defer srv.Close()

	cols, err := testClient(srv).ListCollections(context.Background())
	require.NoError(t, err)
	assert.Len(t, cols, 1)
}

// --- CreateCollection ---

func TestCreateCollection_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Projects", body["name"])

		writeJSON(w, http.StatusCreated, map[string]string{"id": "c9"})
	}))
	defer srv.Close()

	id, err := testClient(srv).CreateCollection(context.Background(), "Projects")
	require.NoError(t, err)
	assert.Equal(t, "c9", id)
}

func TestCreateCollection_AlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"code":  "collection_exists",
			"error": "collection Projects already exists",
		})
	}))
	defer srv.Close()

	_, err := testClient(srv).CreateCollection(context.Background(), "Projects")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrAlreadyExists)
	assert.False(t, kberrors.IsTransient(err))
}

// --- UploadDocument ---

func TestUploadDocument_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "daily_ab12cd34_deadbeef.md", body["name"])
		assert.Equal(t, "# hello", body["content"])

		writeJSON(w, http.StatusCreated, map[string]string{"id": "d42"})
	}))
	defer srv.Close()

	id, err := testClient(srv).UploadDocument(context.Background(), "daily_ab12cd34_deadbeef.md", "# hello")
	require.NoError(t, err)
	assert.Equal(t, "d42", id)
}

func TestUploadDocument_DuplicateContent_ReturnsExistingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"code":  "duplicate_content",
			"error": "identical document already stored",
			"id":    "d7",
		})
	}))
	defer srv.Close()

	id, err := testClient(srv).UploadDocument(context.Background(), "x.md", "same")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrDuplicateContent)
	assert.Equal(t, "d7", id, "existing id should accompany the duplicate condition")
}

// --- Attach / Detach / DeleteDocument ---

func TestAttach_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/collections/c1/documents/d1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv).Attach(context.Background(), "c1", "d1"))
}

func TestDetach_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such link"})
	}))
	defer srv.Close()

	err := testClient(srv).Detach(context.Background(), "c1", "d1")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrNotFound)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "gone"})
	}))
	defer srv.Close()

	err := testClient(srv).DeleteDocument(context.Background(), "d1")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrNotFound)
}

func TestDeleteDocument_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv).DeleteDocument(context.Background(), "d1"))
}

func TestNetworkFailure_IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := testClient(srv).ListCollections(context.Background())
	require.Error(t, err)
	assert.True(t, kberrors.IsTransient(err))
}

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"song","duration":180}`))
	}))
	defer srv.Close()

	var out struct {
		Name     string `json:"name"`
		Duration int    `json:"duration"`
	}
	c := New(t.TempDir())
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "song", out.Name)
	assert.Equal(t, 180, out.Duration)
}

func TestGetJSONClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c := New(t.TempDir())
	err := c.GetJSON(context.Background(), srv.URL, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSONRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	c := New(t.TempDir())
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIKeyHeaderScopedToBase(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(t.TempDir(), WithAPIAuth(srv.URL, "secret"))
	require.NoError(t, c.GetJSON(context.Background(), srv.URL+"/track", &struct{}{}))
	assert.Equal(t, "secret", gotKey)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`{}`))
	}))
	defer other.Close()
	require.NoError(t, c.GetJSON(context.Background(), other.URL, &struct{}{}))
	assert.Empty(t, gotKey, "key must not leak to other hosts")
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "song.m4a")
	c := New(t.TempDir())
	path, err := c.DownloadFile(context.Background(), srv.URL, dest, false)
	require.NoError(t, err)
	assert.Equal(t, dest, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "temp file cleaned up")
}

func TestDownloadFileIdempotent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "song.m4a")
	require.NoError(t, os.WriteFile(dest, []byte("cached"), 0o644))

	c := New(t.TempDir())
	path, err := c.DownloadFile(context.Background(), srv.URL, dest, false)
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.Equal(t, int32(0), calls.Load(), "existing file short-circuits")

	data, _ := os.ReadFile(dest)
	assert.Equal(t, "cached", string(data))

	_, err = c.DownloadFile(context.Background(), srv.URL, dest, true)
	require.NoError(t, err)
	data, _ = os.ReadFile(dest)
	assert.Equal(t, "fresh", string(data), "overwrite forces a re-download")
}

func TestDownloadFileNameFromContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="my:song?.mp3"`)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New(dir)
	path, err := c.DownloadFile(context.Background(), srv.URL+"/dl", "", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mysong.mp3"), path, "unsafe characters stripped")
}

func TestDownloadFileErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	_, err := c.DownloadFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), false)
	assert.Error(t, err)
}

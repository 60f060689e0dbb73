package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/juspay/airborne/integrity"
	"github.com/juspay/airborne/network"
	"github.com/juspay/airborne/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileUtil() *remote.FileUtil {
	return remote.NewFileUtil(network.NewClient())
}

func TestDownloadTo(t *testing.T) {
	payload := []byte("the bundle contents")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "main.jsbundle")
	err := newFileUtil().DownloadTo(context.Background(), server.URL, dest, integrity.ChecksumData(payload))
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, dest+".part")
}

func TestDownloadToWithoutChecksum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("anything"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "file.bin")
	require.NoError(t, newFileUtil().DownloadTo(context.Background(), server.URL, dest, ""))
	assert.FileExists(t, dest)
}

func TestDownloadToChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered contents"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "main.jsbundle")
	err := newFileUtil().DownloadTo(context.Background(), server.URL, dest, integrity.ChecksumData([]byte("expected contents")))

	var mismatch *integrity.Mismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, dest, mismatch.Path)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestDownloadToHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "main.jsbundle")
	err := newFileUtil().DownloadTo(context.Background(), server.URL, dest, "")
	var httpErr *network.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.NoFileExists(t, dest)
}

func TestDownloadWithCheckSkipsExisting(t *testing.T) {
	payload := []byte("already here")
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(dest, payload, 0o644))

	util := newFileUtil()
	require.NoError(t, util.DownloadWithCheck(context.Background(), server.URL, dest, integrity.ChecksumData(payload)))
	assert.Equal(t, int32(0), calls.Load())

	// stale content is replaced
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))
	require.NoError(t, util.DownloadWithCheck(context.Background(), server.URL, dest, integrity.ChecksumData(payload)))
	assert.Equal(t, int32(1), calls.Load())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadWithCheckNoChecksumKeepsExisting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(dest, []byte("whatever"), 0o644))
	require.NoError(t, newFileUtil().DownloadWithCheck(context.Background(), server.URL, dest, ""))
	assert.Equal(t, int32(0), calls.Load())
}

func TestExistsAt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/present" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	util := newFileUtil()
	assert.True(t, util.ExistsAt(context.Background(), server.URL+"/present"))
	assert.False(t, util.ExistsAt(context.Background(), server.URL+"/absent"))
}

func TestDownloadToCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := filepath.Join(t.TempDir(), "file.bin")
	err := newFileUtil().DownloadTo(ctx, server.URL, dest, "")
	require.Error(t, err)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, remote.IsTransient(nil))
	assert.False(t, remote.IsTransient(context.Canceled))
	assert.True(t, remote.IsTransient(&network.Error{Status: 502}))
	assert.False(t, remote.IsTransient(&network.Error{Status: 404}))
	assert.True(t, remote.IsTransient(&integrity.Mismatch{Path: "x"}))
}

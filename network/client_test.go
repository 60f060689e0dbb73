package network_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juspay/airborne/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := network.NewClient().Request(context.Background(), http.MethodGet, server.URL, nil, nil, network.Options{ParseJSON: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	decoded, ok := resp.JSON.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, decoded["ok"])
}

func TestRequestNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	resp, err := network.NewClient().Request(context.Background(), http.MethodGet, server.URL, nil, nil, network.Options{})
	var httpErr *network.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Status)
	assert.Contains(t, httpErr.BodyExcerpt, "nope")
	assert.Equal(t, "client_error", httpErr.Kind)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHeaderMerge(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer server.Close()

	client := network.NewClient()
	client.SetDefaultHeader("X-Client-Id", "checkout")
	client.SetDefaultHeader("X-Tenant", "default")

	_, err := client.Request(context.Background(), http.MethodGet, server.URL, nil, map[string]string{"X-Tenant": "override"}, network.Options{})
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Get("X-Client-Id"))
	assert.Equal(t, "override", got.Get("X-Tenant"))
}

func TestNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := network.NewClient().Request(context.Background(), http.MethodGet, server.URL, nil, nil, network.Options{})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOptInRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := network.NewClient().Request(context.Background(), http.MethodGet, server.URL, nil, nil, network.Options{
		Retry: network.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryForPost(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := network.NewClient().Request(context.Background(), http.MethodPost, server.URL, []byte("{}"), nil, network.Options{
		Retry: network.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	start := time.Now()
	_, err := network.NewClient().Request(context.Background(), http.MethodGet, server.URL, nil, nil, network.Options{Timeout: 50 * time.Millisecond})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exists" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := network.NewClient()
	ok, err := client.Head(context.Background(), server.URL+"/exists")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Head(context.Background(), server.URL+"/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed payload"))
	}))
	defer server.Close()

	body, length, err := network.NewClient().Stream(context.Background(), server.URL, nil, 0)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(len("streamed payload")), length)

	payload, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "streamed payload", string(payload))
}

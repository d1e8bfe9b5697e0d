package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Heartbeat_SendsWorkerLoadAndURL(t *testing.T) {
	var got HeartbeatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(StatusResponse{Status: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-1")
	err := c.Heartbeat(context.Background(), 42, "http://worker-1:9000")
	require.NoError(t, err)

	assert.Equal(t, "worker-1", got.WorkerID)
	assert.Equal(t, 42, got.CurrentLoad)
	assert.Equal(t, "http://worker-1:9000", got.WorkerURL)
}

func TestClient_ReportEviction_SkipsEmptyBatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-1")
	err := c.ReportEviction(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, called, "an empty eviction batch must not make a network call")
}

func TestClient_ReportSync_SendsActiveHashes(t *testing.T) {
	var got SyncReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-1")
	err := c.ReportSync(context.Background(), []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, got.ActiveHashes)
}

func TestClient_Post_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-1")
	err := c.Heartbeat(context.Background(), 0, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestClient_Post_NonRetryableOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "worker-1")
	err := c.Heartbeat(context.Background(), 0, "")
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "a 4xx must not be retried")
}

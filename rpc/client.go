package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Client is a worker's handle to the router's internal endpoints: heartbeat,
// eviction, and sync. These are fire-and-forget pushes on a timer; failures
// are logged and retried rather than crashing the worker. Retries use
// cenkalti/backoff/v4 rather than a hand-rolled loop, since a transient
// router hiccup should not drop a heartbeat.
type Client struct {
	RouterURL string
	WorkerID  string

	httpClient *http.Client
}

// NewClient constructs a Client posting to routerURL on behalf of workerID.
func NewClient(routerURL, workerID string) *Client {
	return &Client{
		RouterURL:  routerURL,
		WorkerID:   workerID,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Heartbeat pushes liveness and current load to the router. workerURL, if
// non-empty, lets the router learn this worker's own address for proxy-mode
// forwarding.
func (c *Client) Heartbeat(ctx context.Context, currentLoad int, workerURL string) error {
	return c.post(ctx, "/internal/heartbeat", HeartbeatRequest{
		WorkerID:    c.WorkerID,
		CurrentLoad: currentLoad,
		WorkerURL:   workerURL,
	})
}

// ReportEviction pushes a batch of evicted block hashes. A coalesced batch,
// not one call per eviction; the caller (the eviction control loop) is
// responsible for batching.
func (c *Client) ReportEviction(ctx context.Context, evictedHashes []string) error {
	if len(evictedHashes) == 0 {
		return nil
	}
	return c.post(ctx, "/internal/eviction", EvictionReport{
		WorkerID:      c.WorkerID,
		EvictedHashes: evictedHashes,
	})
}

// ReportSync pushes the authoritative set of currently cached block hashes —
// the truth signal that replaces the router's belief about this worker
// entirely, including the empty set.
func (c *Client) ReportSync(ctx context.Context, activeHashes []string) error {
	if activeHashes == nil {
		activeHashes = []string{}
	}
	return c.post(ctx, "/internal/sync", SyncReport{
		WorkerID:     c.WorkerID,
		ActiveHashes: activeHashes,
	})
}

// post sends body as JSON to path on the router, retrying transient failures
// (network errors and 5xx) with a short exponential backoff that stops
// starting new attempts after 2s. That bound is longer than the default
// heartbeat (1s) and eviction (100ms) periods; the calling control loop
// sends nothing further until post returns.
func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	b.InitialInterval = 50 * time.Millisecond

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RouterURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building %s request: %w", path, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("posting %s: %w", path, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d", path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("%s returned %d", path, resp.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		logrus.Warnf("[worker] %s failed after retries: %v", path, err)
		return err
	}
	return nil
}

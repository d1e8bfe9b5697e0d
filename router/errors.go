package router

import "errors"

// Sentinel errors for the router's typed failure outcomes. Callers should
// use errors.Is to test for these, since some are wrapped with
// request-specific context before being returned.
var (
	// ErrNoWorkersAvailable is returned by RoutingEngine.Route when no worker
	// can be selected: the load table is empty, or (for cache_aware and
	// least_loaded) every known worker is stale. Surfaced as HTTP 503 by
	// rpc.Server.
	ErrNoWorkersAvailable = errors.New("router: no workers available")

	// ErrCapacityExceeded is returned by worker.BlockCache.Allocate when no
	// evictable block exists to satisfy a new allocation.
	ErrCapacityExceeded = errors.New("worker: capacity exceeded, no evictable block")

	// ErrProxyUnreachable is returned when proxy-mode forwarding to a
	// worker's advertised URL fails. Surfaced as HTTP 502.
	ErrProxyUnreachable = errors.New("router: proxy target unreachable")

	// ErrMalformedRequest is returned on JSON decode or schema violation.
	// Surfaced as HTTP 400.
	ErrMalformedRequest = errors.New("router: malformed request")

	// ErrInvariantViolation marks an internal consistency check failure.
	// Callers should log and best-effort self-heal (e.g. force a re-sync)
	// rather than propagate a crash.
	ErrInvariantViolation = errors.New("router: invariant violation")
)

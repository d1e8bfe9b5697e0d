package router

import "fmt"

// CacheStatus reports whether a routing decision was served by a prefix
// match (HIT) or fell back to load-based selection (MISS).
type CacheStatus string

const (
	CacheHit  CacheStatus = "HIT"
	CacheMiss CacheStatus = "MISS"
)

// Strategy names one of the router's three selection policies.
type Strategy string

const (
	StrategyCacheAware  Strategy = "cache_aware"
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyRoundRobin  Strategy = "round_robin"
)

// leastLoadedBumpIncrement is the speculative load increase applied to a
// worker chosen by the least_loaded strategy, smoothing bursts until the
// next heartbeat corrects the real value.
const leastLoadedBumpIncrement = 50

// Decision is the outcome of RoutingEngine.Route.
type Decision struct {
	Worker      string
	CacheStatus CacheStatus
	MatchLength int
}

// RoutingEngine selects a worker for an incoming request under a single
// configured strategy, consulting and speculatively updating a
// GlobalCacheMap.
type RoutingEngine struct {
	strategy Strategy
	cm       *GlobalCacheMap

	// rrCursor is the round_robin strategy's independent cursor, separate
	// from GlobalCacheMap's tie-breaking rotation.
	rrCursor int
}

// NewRoutingEngine constructs a RoutingEngine for the given strategy name.
// Empty string defaults to cache_aware. Panics on an unrecognized name.
func NewRoutingEngine(strategy Strategy, cm *GlobalCacheMap) *RoutingEngine {
	switch strategy {
	case "", StrategyCacheAware, StrategyLeastLoaded, StrategyRoundRobin:
	default:
		panic(fmt.Sprintf("router: unknown routing strategy %q", strategy))
	}
	if strategy == "" {
		strategy = StrategyCacheAware
	}
	return &RoutingEngine{strategy: strategy, cm: cm}
}

// Route computes block hashes for tokens (if needed by the strategy) and
// returns a routing Decision. Returns ErrNoWorkersAvailable if no worker can
// be selected.
func (e *RoutingEngine) Route(tokens []int) (Decision, error) {
	switch e.strategy {
	case StrategyRoundRobin:
		return e.routeRoundRobin()
	case StrategyLeastLoaded:
		return e.routeLeastLoaded()
	default:
		return e.routeCacheAware(tokens)
	}
}

func (e *RoutingEngine) routeRoundRobin() (Decision, error) {
	workers := e.cm.KnownWorkers()
	if len(workers) == 0 {
		return Decision{}, ErrNoWorkersAvailable
	}
	w := workers[e.rrCursor%len(workers)]
	e.rrCursor++
	return Decision{Worker: w, CacheStatus: CacheMiss}, nil
}

func (e *RoutingEngine) routeLeastLoaded() (Decision, error) {
	w, ok := e.cm.LeastLoaded(nil)
	if !ok {
		return Decision{}, ErrNoWorkersAvailable
	}
	// Speculatively bump load to smooth bursts until the next heartbeat.
	e.cm.BumpLoad(w, leastLoadedBumpIncrement)
	return Decision{Worker: w, CacheStatus: CacheMiss}, nil
}

func (e *RoutingEngine) routeCacheAware(tokens []int) (Decision, error) {
	hashes := ComputeBlockHashes(tokens)

	if w, matchLen := e.cm.LongestPrefixMatch(hashes); matchLen > 0 {
		return Decision{Worker: w, CacheStatus: CacheHit, MatchLength: matchLen}, nil
	}

	w, ok := e.cm.LeastLoaded(nil)
	if !ok {
		return Decision{}, ErrNoWorkersAvailable
	}
	if len(hashes) > 0 {
		e.cm.UpdateBlockSequence(w, hashes)
	}
	return Decision{Worker: w, CacheStatus: CacheMiss}, nil
}

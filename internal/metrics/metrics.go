// Package metrics defines the router's Prometheus instrumentation. Grounded
// on other_examples' grafana-tempo tempodb.go (promauto.New* package-level
// vars) and vjache-cie's cmd/cie/index.go (mounting promhttp.Handler() on
// /metrics) — the two usages of github.com/prometheus/client_golang found in
// the retrieval pack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoutingDecisions counts routing decisions by (strategy, cache_status).
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "router",
		Name:      "routing_decisions_total",
		Help:      "Number of routing decisions made, by strategy and cache status.",
	}, []string{"strategy", "cache_status"})

	// RoutingDecisionSeconds observes end-to-end routing decision latency.
	RoutingDecisionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "router",
		Name:      "routing_decision_seconds",
		Help:      "Latency of a single routing decision (fingerprint + map lookup + selection).",
		Buckets:   prometheus.DefBuckets,
	})

	// KnownWorkers gauges the number of workers the router has an entry for
	// (live or stale), updated on each heartbeat.
	KnownWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Name:      "known_workers",
		Help:      "Number of workers known to the router (including stale).",
	})

	// ForwardIndexSize gauges the number of distinct block hashes indexed
	// in the GlobalCacheMap's forward map.
	ForwardIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Name:      "forward_index_size",
		Help:      "Number of distinct block hashes currently indexed.",
	})

	// TrieNodes gauges the number of live nodes in the GlobalCacheMap's
	// prefix trie.
	TrieNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "router",
		Name:      "trie_nodes",
		Help:      "Number of live nodes in the block-hash prefix trie.",
	})

	// ProxyForwardErrors counts failed proxy-mode forwards to a worker.
	ProxyForwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "router",
		Name:      "proxy_forward_errors_total",
		Help:      "Number of proxy-mode forwards that failed (worker unreachable).",
	})
)

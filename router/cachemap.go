package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerState is the router's view of a worker's lifecycle: unknown until
// the first heartbeat, known once heartbeating, registered-with-cache once
// it has synced a nonempty sequence, and stale if heartbeats stop arriving.
type WorkerState int

const (
	// WorkerUnknown is never observed in GlobalCacheMap's tables directly —
	// a worker with no heartbeat simply has no entry. It exists as a named
	// state for documentation and for rpc handlers reporting on an id that
	// has never been seen.
	WorkerUnknown WorkerState = iota
	WorkerKnown
	WorkerRegisteredWithCache
	WorkerStale
)

func (s WorkerState) String() string {
	switch s {
	case WorkerKnown:
		return "known"
	case WorkerRegisteredWithCache:
		return "registered-with-cache"
	case WorkerStale:
		return "stale"
	default:
		return "unknown"
	}
}

// DefaultStaleAfter is the default staleness threshold: three times the
// recommended 1s heartbeat interval, so a single missed beat doesn't flip a
// worker stale.
const DefaultStaleAfter = 3 * time.Second

// workerInfo is the router's bookkeeping for one worker's liveness and load.
type workerInfo struct {
	load             int
	lastHeartbeat    time.Time
	hasSyncedNonzero bool // true once a sync with a nonempty sequence has landed
}

// GlobalCacheMap is the router's concurrent index of worker cache state: a
// fingerprint -> workers forward index, a worker -> fingerprints reverse
// index (for O(k) reconciliation), a prefix trie for longest-prefix-match,
// and a worker load table. All public operations are serialized by a single
// mutex.
type GlobalCacheMap struct {
	mu sync.Mutex

	forward       map[string]map[string]struct{} // BlockHash -> set<WorkerId>
	reverse       map[string]map[string]struct{} // WorkerId -> set<BlockHash>
	sequences     map[string][]string             // WorkerId -> ordered block hash sequence
	root          *trieNode
	trieNodeCount int                             // live (non-root) trie nodes, maintained incrementally
	workers       map[string]*workerInfo          // WorkerId -> liveness/load
	rrState       map[string]int                  // sorted tie-set key -> next rotation index

	staleAfter time.Duration
	now        func() time.Time // injectable clock, defaults to time.Now
}

// NewGlobalCacheMap constructs an empty GlobalCacheMap with the default
// staleness threshold.
func NewGlobalCacheMap() *GlobalCacheMap {
	return &GlobalCacheMap{
		forward:    make(map[string]map[string]struct{}),
		reverse:    make(map[string]map[string]struct{}),
		sequences:  make(map[string][]string),
		root:       newTrieNode(),
		workers:    make(map[string]*workerInfo),
		rrState:    make(map[string]int),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// SetStaleAfter overrides the staleness threshold (tests and deployments with
// a different heartbeat cadence may want this).
func (m *GlobalCacheMap) SetStaleAfter(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleAfter = d
}

// setClock overrides the clock used for staleness checks. Test-only hook.
func (m *GlobalCacheMap) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *GlobalCacheMap) ensureWorker(w string) *workerInfo {
	info, ok := m.workers[w]
	if !ok {
		info = &workerInfo{}
		m.workers[w] = info
	}
	return info
}

// Update performs a speculative single-block insertion: add w to forward[h]
// and reverse[w]. Does not touch the trie.
func (m *GlobalCacheMap) Update(w, h string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.forward[h] == nil {
		m.forward[h] = make(map[string]struct{})
	}
	m.forward[h][w] = struct{}{}

	if m.reverse[w] == nil {
		m.reverse[w] = make(map[string]struct{})
	}
	m.reverse[w][h] = struct{}{}

	m.ensureWorker(w)
}

// Evict removes w from forward[h] and reverse[w], and unlinks w from the
// trie path corresponding to sequences[w]. This is the router's response to
// a worker's eviction-batch push; it is an advisory optimization, not
// truth — a subsequent Sync always overrides it.
func (m *GlobalCacheMap) Evict(w, h string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.forward[h]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(m.forward, h)
		}
	}
	if set, ok := m.reverse[w]; ok {
		delete(set, h)
	}
	m.removeFromTrie(w)
}

// removeFromTrie walks sequences[w] and removes w from every node on that
// path, garbage-collecting nodes left with no workers and no children. Must
// be called with mu held.
func (m *GlobalCacheMap) removeFromTrie(w string) {
	seq, ok := m.sequences[w]
	if !ok || len(seq) == 0 {
		return
	}

	path := make([]*trieNode, 0, len(seq)+1)
	path = append(path, m.root)
	node := m.root
	for _, h := range seq {
		child, ok := node.children[h]
		if !ok {
			break
		}
		path = append(path, child)
		node = child
	}
	// Remove w from every visited node (all but the root, which never
	// carries workers since it has no incoming edge).
	for i := 1; i < len(path); i++ {
		delete(path[i].workers, w)
	}
	// Garbage-collect empty leaf nodes walking back up the path.
	for i := len(path) - 1; i >= 1; i-- {
		if !path[i].empty() {
			break
		}
		delete(path[i-1].children, seq[i-1])
		m.trieNodeCount--
	}
}

// UpdateBlockSequence replaces the trie registration for w: removes w from
// every node on its old sequence path, stores the new sequence, and inserts
// w into every node on the new path (creating edges as needed).
func (m *GlobalCacheMap) UpdateBlockSequence(w string, seq []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateBlockSequenceLocked(w, seq)
}

func (m *GlobalCacheMap) updateBlockSequenceLocked(w string, seq []string) {
	m.removeFromTrie(w)

	stored := make([]string, len(seq))
	copy(stored, seq)
	m.sequences[w] = stored

	node := m.root
	for _, h := range seq {
		child, ok := node.children[h]
		if !ok {
			child = newTrieNode()
			node.children[h] = child
			m.trieNodeCount++
		}
		child.workers[w] = struct{}{}
		node = child
	}
	m.ensureWorker(w)
}

// Sync is the truth signal: clear w from forward/reverse/trie via the
// reverse index, then re-register seq as if UpdateBlockSequence was called,
// then populate forward/reverse for every hash in seq. After Sync, w is in
// forward[h] iff h is in seq — no residue from the prior state.
func (m *GlobalCacheMap) Sync(w string, seq []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hashes, ok := m.reverse[w]; ok {
		for h := range hashes {
			if set, ok := m.forward[h]; ok {
				delete(set, w)
				if len(set) == 0 {
					delete(m.forward, h)
				}
			}
		}
		m.reverse[w] = make(map[string]struct{})
	}
	m.removeFromTrie(w)

	if len(seq) > 0 {
		m.updateBlockSequenceLocked(w, seq)
		for _, h := range seq {
			if m.forward[h] == nil {
				m.forward[h] = make(map[string]struct{})
			}
			m.forward[h][w] = struct{}{}
			if m.reverse[w] == nil {
				m.reverse[w] = make(map[string]struct{})
			}
			m.reverse[w][h] = struct{}{}
		}
		info := m.ensureWorker(w)
		info.hasSyncedNonzero = true
	} else {
		// An empty sequence still establishes a (now-empty) registration so
		// that sequences[w] reflects reality rather than a stale prior value.
		m.sequences[w] = nil
		m.ensureWorker(w)
	}
}

// isStaleLocked reports whether w should be excluded from routing candidate
// pools because no heartbeat has arrived within staleAfter.
func (m *GlobalCacheMap) isStaleLocked(w string) bool {
	info, ok := m.workers[w]
	if !ok {
		return true
	}
	if info.lastHeartbeat.IsZero() {
		// A worker known only via Update/Sync (never heartbeated) is not yet
		// "Known" in the state-machine sense; treat as unavailable for
		// least_loaded/longest_prefix_match candidate pools.
		return true
	}
	return m.now().Sub(info.lastHeartbeat) > m.staleAfter
}

// LongestPrefixMatch walks the trie against seq. At every node visited
// (depth >= 1) whose workers set is nonempty, it records the best candidate
// so far. The worker with the greatest matched depth wins; ties at that
// depth are broken by least-loaded (then round-robin). Returns ("", 0) if no
// edge from the root matches, or if the only candidates are stale.
func (m *GlobalCacheMap) LongestPrefixMatch(seq []string) (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bestWorker := ""
	bestLen := 0

	node := m.root
	depth := 0
	for _, h := range seq {
		child, ok := node.children[h]
		if !ok {
			break
		}
		node = child
		depth++

		if len(node.workers) == 0 {
			continue
		}
		candidates := m.liveCandidates(node.workers)
		if len(candidates) == 0 {
			continue
		}
		w := m.pickLeastLoadedLocked(candidates)
		if w != "" {
			bestWorker = w
			bestLen = depth
		}
	}
	return bestWorker, bestLen
}

// liveCandidates filters a worker set down to non-stale workers, returned in
// sorted order for deterministic downstream tie-breaking.
func (m *GlobalCacheMap) liveCandidates(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		if !m.isStaleLocked(w) {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// UpdateLoad sets load[w] and marks w as having just heartbeated (transitions
// Unknown or Stale to Known).
func (m *GlobalCacheMap) UpdateLoad(w string, load int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.ensureWorker(w)
	info.load = load
	info.lastHeartbeat = m.now()
}

// BumpLoad adds delta to w's current load, used for the least_loaded
// strategy's speculative smoothing between heartbeats. Does not touch w's
// heartbeat timestamp or liveness.
func (m *GlobalCacheMap) BumpLoad(w string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.ensureWorker(w)
	info.load += delta
}

// WorkerState reports the router's current view of w's lifecycle state.
func (m *GlobalCacheMap) WorkerState(w string) WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.workers[w]
	if !ok {
		return WorkerUnknown
	}
	if m.isStaleLocked(w) {
		return WorkerStale
	}
	if info.hasSyncedNonzero {
		return WorkerRegisteredWithCache
	}
	return WorkerKnown
}

// LeastLoaded returns the least-loaded worker among pool (or all known,
// live workers if pool is nil). Ties are broken by round-robin rotation
// keyed on the sorted tuple of tied worker ids, so repeated queries with the
// same tie set rotate fairly instead of always picking the same winner.
func (m *GlobalCacheMap) LeastLoaded(pool []string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []string
	if pool == nil {
		for w := range m.workers {
			if !m.isStaleLocked(w) {
				candidates = append(candidates, w)
			}
		}
	} else {
		for _, w := range pool {
			if _, ok := m.workers[w]; ok && !m.isStaleLocked(w) {
				candidates = append(candidates, w)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return m.pickLeastLoadedLocked(candidates), true
}

// pickLeastLoadedLocked selects the minimum-load worker from a (non-empty,
// already-deduplicated) candidate slice, rotating among ties. Must be called
// with mu held. candidates need not be pre-sorted; the tie key is always the
// sorted tuple regardless of input order.
func (m *GlobalCacheMap) pickLeastLoadedLocked(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	minLoad := m.workers[candidates[0]].load
	for _, w := range candidates[1:] {
		if l := m.workers[w].load; l < minLoad {
			minLoad = l
		}
	}
	tied := make([]string, 0, len(candidates))
	for _, w := range candidates {
		if m.workers[w].load == minLoad {
			tied = append(tied, w)
		}
	}
	sort.Strings(tied)
	if len(tied) == 1 {
		return tied[0]
	}
	key := strings.Join(tied, ",")
	idx := m.rrState[key]
	selected := tied[idx%len(tied)]
	m.rrState[key] = idx + 1
	return selected
}

// KnownWorkers returns the sorted set of all worker ids the router has an
// entry for (from a heartbeat, a sync or a speculative update), regardless
// of staleness. Used by round-robin routing,
// which ignores liveness entirely and just cycles through every known worker.
func (m *GlobalCacheMap) KnownWorkers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workers))
	for w := range m.workers {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Sequence returns a copy of the last-registered block sequence for w.
func (m *GlobalCacheMap) Sequence(w string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.sequences[w]
	out := make([]string, len(seq))
	copy(out, seq)
	return out
}

// ForwardCount reports how many distinct block hashes are currently indexed.
// Exposed for the /metrics forward-index-size gauge.
func (m *GlobalCacheMap) ForwardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forward)
}

// KnownWorkerCount reports how many workers the router has an entry for,
// the same set KnownWorkers returns.
func (m *GlobalCacheMap) KnownWorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// TrieNodeCount reports the number of live (non-root) nodes in the prefix
// trie. Exposed for the /metrics trie-node-count gauge.
func (m *GlobalCacheMap) TrieNodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trieNodeCount
}

// VerifyConsistency checks that w's reverse-index entries agree with the
// forward index: every hash in reverse[w] must have w present in
// forward[h]. A mismatch indicates a bug in the incremental update paths
// rather than a normal runtime condition, so rather than serve routing
// decisions from a table that may be wrong, VerifyConsistency self-heals by
// dropping w's indexed state entirely, forcing the worker's next periodic
// Sync to rebuild it from scratch. Returns a wrapped ErrInvariantViolation
// if it had to self-heal, nil otherwise.
func (m *GlobalCacheMap) VerifyConsistency(w string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for h := range m.reverse[w] {
		if set, ok := m.forward[h]; ok {
			if _, present := set[w]; present {
				continue
			}
		}
		logrus.Errorf("[router] invariant violation: %s has %s in its reverse index but not in forward[%s]; forcing re-sync", w, h, h)
		for rh := range m.reverse[w] {
			if set, ok := m.forward[rh]; ok {
				delete(set, w)
				if len(set) == 0 {
					delete(m.forward, rh)
				}
			}
		}
		m.reverse[w] = make(map[string]struct{})
		m.removeFromTrie(w)
		delete(m.sequences, w)
		return fmt.Errorf("worker %s: %w", w, ErrInvariantViolation)
	}
	return nil
}

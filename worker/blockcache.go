// Package worker implements the worker-side cache simulator: a block-level
// KV cache with reference counting and eviction ordering (BlockCache), the
// Task lifecycle that drives allocation/completion, a small latency model
// used to give a Task concrete timings, and the periodic control loops that
// push heartbeat/eviction/sync signals to the router.
package worker

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/statefulrouter/statefulrouter/router"
)

// Block is one held KV cache block, addressed by its content hash rather
// than a position in a fixed-size pool: there is no block-object free list,
// only a capacity ceiling, so blocks are created and destroyed by hash.
type Block struct {
	Hash            string
	RefCount        int
	LastUsed        time.Time
	SequenceID      string // the sequence that first created this block
	IndexInSequence int    // position within that sequence, fixed at creation
}

// evictEntry is one entry in the evictable min-heap, ordered by (last_used
// asc, index_in_sequence desc): least-recently-used first, and among blocks
// used at the same time, the one later in its sequence first — the tail of
// a sequence is the least useful prefix to keep warm.
type evictEntry struct {
	hash     string
	lastUsed time.Time
	index    int
}

type evictableHeap []evictEntry

func (h evictableHeap) Len() int { return len(h) }

func (h evictableHeap) Less(i, j int) bool {
	if !h[i].lastUsed.Equal(h[j].lastUsed) {
		return h[i].lastUsed.Before(h[j].lastUsed)
	}
	// Secondary: evict the later (higher-index) block first.
	return h[i].index > h[j].index
}

func (h evictableHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *evictableHeap) Push(x interface{}) {
	*h = append(*h, x.(evictEntry))
}

func (h *evictableHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BlockCache holds a worker's KV blocks, enforcing a fixed capacity via
// reference-counted eviction. A single mutex covers blocks, refcounts, and
// the evictable heap.
type BlockCache struct {
	mu        sync.Mutex
	maxBlocks int
	blocks    map[string]*Block
	sequences map[string][]string // SequenceID -> ordered hashes at allocation time
	heap      evictableHeap
	now       func() time.Time
	evicted   []string // hashes evicted since the last DrainEvicted call
}

// NewBlockCache constructs an empty BlockCache with the given capacity.
func NewBlockCache(maxBlocks int) *BlockCache {
	return &BlockCache{
		maxBlocks: maxBlocks,
		blocks:    make(map[string]*Block),
		sequences: make(map[string][]string),
		heap:      make(evictableHeap, 0),
		now:       time.Now,
	}
}

// Allocate pins every block in hashes for sequence seqID: existing blocks
// have their ref count incremented and last_used refreshed; missing blocks
// are created after evicting as many evictable blocks as needed. Returns the
// subset that was already cached and the subset newly allocated. Returns
// router.ErrCapacityExceeded, without mutating any state, if there is not
// enough evictable capacity to satisfy the request.
func (c *BlockCache) Allocate(seqID string, hashes []string) (cached map[string]bool, newlyAllocated map[string]bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashSet := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		hashSet[h] = true
	}

	cached = make(map[string]bool)
	var missing []int // indices into hashes that are not yet present
	for i, h := range hashes {
		if _, ok := c.blocks[h]; ok {
			cached[h] = true
		} else {
			missing = append(missing, i)
		}
	}

	predictedTotal := len(c.blocks) + len(missing)
	if predictedTotal > c.maxBlocks {
		needed := predictedTotal - c.maxBlocks
		avail := 0
		for h, blk := range c.blocks {
			if blk.RefCount == 0 && !hashSet[h] {
				avail++
			}
		}
		if avail < needed {
			return nil, nil, router.ErrCapacityExceeded
		}
	}

	now := c.now()

	// Pin cache hits first so they can never be selected for eviction below.
	for h := range cached {
		blk := c.blocks[h]
		blk.RefCount++
		blk.LastUsed = now
	}

	// Evict until there is room for every missing block.
	for len(c.blocks)+len(missing) > c.maxBlocks {
		h, ok := c.popEvictable()
		if !ok {
			return nil, nil, router.ErrCapacityExceeded
		}
		delete(c.blocks, h)
		c.evicted = append(c.evicted, h)
	}

	newlyAllocated = make(map[string]bool, len(missing))
	for _, i := range missing {
		h := hashes[i]
		c.blocks[h] = &Block{
			Hash:            h,
			RefCount:        1,
			LastUsed:        now,
			SequenceID:      seqID,
			IndexInSequence: i,
		}
		newlyAllocated[h] = true
	}

	stored := make([]string, len(hashes))
	copy(stored, hashes)
	c.sequences[seqID] = stored

	return cached, newlyAllocated, nil
}

// popEvictable pops heap entries until it finds one still valid (block
// present, unreferenced, and last_used unchanged since the entry was
// pushed), discarding stale entries along the way. Returns
// false if the heap is exhausted without finding a valid candidate: the
// caller must treat this as a capacity fault rather than evict a referenced
// block.
func (c *BlockCache) popEvictable() (string, bool) {
	for c.heap.Len() > 0 {
		entry := heap.Pop(&c.heap).(evictEntry)
		blk, ok := c.blocks[entry.hash]
		if !ok || blk.RefCount > 0 {
			continue
		}
		if !blk.LastUsed.Equal(entry.lastUsed) {
			// Outdated entry from before the block was pinned again; the
			// entry pushed on its latest release carries its real last_used.
			continue
		}
		return entry.hash, true
	}
	return "", false
}

// Complete decrements the ref count on every block of seqID; blocks
// reaching zero become evictable (pushed onto the evictable heap). The
// sequence's hash list is retained (not deleted) so SnapshotSequences can
// keep reporting it as cached content until it is actually evicted — vLLM
// style prefix caching keeps completed requests' blocks warm.
func (c *BlockCache) Complete(seqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.sequences[seqID] {
		blk, ok := c.blocks[h]
		if !ok {
			continue
		}
		blk.RefCount--
		if blk.RefCount == 0 {
			heap.Push(&c.heap, evictEntry{hash: h, lastUsed: blk.LastUsed, index: blk.IndexInSequence})
		}
	}
}

// SnapshotSequences returns all currently-held sequences in block order,
// with any blocks already evicted removed, sorted by sequence id for
// determinism. Used by the sync control loop.
func (c *BlockCache) SnapshotSequences() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sequences))
	for id := range c.sequences {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([][]string, 0, len(ids))
	for _, id := range ids {
		var filtered []string
		for _, h := range c.sequences[id] {
			if _, ok := c.blocks[h]; ok {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) > 0 {
			out = append(out, filtered)
		}
	}
	return out
}

// SnapshotHashes returns the set of currently held block hashes, for
// debug/metrics use.
func (c *BlockCache) SnapshotHashes() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.blocks))
	for h := range c.blocks {
		out[h] = true
	}
	return out
}

// DrainEvicted returns the hashes evicted since the last call and clears the
// pending list. Used by the eviction-report control loop, which coalesces
// evictions over a short window before pushing a batch.
func (c *BlockCache) DrainEvicted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.evicted) == 0 {
		return nil
	}
	out := c.evicted
	c.evicted = nil
	return out
}

// Len reports the number of blocks currently held (used, not necessarily
// referenced). Never exceeds maxBlocks.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

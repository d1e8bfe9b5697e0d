package worker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/statefulrouter/statefulrouter/router"
)

// Worker ties a BlockCache, a LatencyModel, and the set of in-flight Tasks
// together: one process, no batch scheduler — each Task advances
// independently and reports its own remaining latency.
type Worker struct {
	ID string

	cache  *BlockCache
	model  LatencyModel
	blocks int // block size in tokens, mirrors router.BlockSize

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewWorker constructs a Worker with a fresh, random id — a restart produces
// a new id rather than trying to resume a previous one's identity.
func NewWorker(maxBlocks int, model LatencyModel) *Worker {
	return &Worker{
		ID:     uuid.NewString(),
		cache:  NewBlockCache(maxBlocks),
		model:  model,
		blocks: router.BlockSize,
		tasks:  make(map[string]*Task),
	}
}

// Submit allocates blocks for a new request and starts tracking its Task.
// requestID must be unique per live request on this worker.
func (w *Worker) Submit(requestID string, blockHashes []string, promptLen, maxTokens int) (*Task, error) {
	cached, _, err := w.cache.Allocate(requestID, blockHashes)
	if err != nil {
		return nil, fmt.Errorf("allocating blocks for %s: %w", requestID, err)
	}

	task := NewTask(requestID, blockHashes, cached, promptLen, maxTokens, w.model)

	w.mu.Lock()
	w.tasks[requestID] = task
	w.mu.Unlock()

	return task, nil
}

// Tick advances every live task by deltaMs, completing (and unpinning the
// blocks of) any task that finishes. Returns the request ids that finished
// this tick.
func (w *Worker) Tick(deltaMs int64) []string {
	w.mu.Lock()
	var finished []string
	for id, t := range w.tasks {
		if t.Advance(deltaMs) {
			finished = append(finished, id)
			delete(w.tasks, id)
		}
	}
	w.mu.Unlock()

	for _, id := range finished {
		w.cache.Complete(id)
	}
	return finished
}

// Load reports total remaining latency across live tasks in milliseconds —
// the worker's heartbeat payload.
func (w *Worker) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, t := range w.tasks {
		total += t.RemainingLatencyMs
	}
	return int(total)
}

// ActiveHashes returns the deduplicated, first-occurrence-ordered
// concatenation of every sequence the block cache still holds (those of
// finished tasks included, minus evicted blocks) — the payload for a full
// sync.
func (w *Worker) ActiveHashes() []string {
	seqs := w.cache.SnapshotSequences()
	seen := make(map[string]bool)
	var out []string
	for _, seq := range seqs {
		for _, h := range seq {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}

// DrainEvicted returns block hashes evicted since the last call.
func (w *Worker) DrainEvicted() []string {
	return w.cache.DrainEvicted()
}

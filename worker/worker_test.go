package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Submit_AllocatesAndTracksTask(t *testing.T) {
	w := NewWorker(10, fixedLatencyModel{prefillMs: 10, decodeMsPerTk: 5})
	task, err := w.Submit("req-1", []string{"h1", "h2"}, 32, 4)
	require.NoError(t, err)
	assert.Equal(t, "req-1", task.RequestID)
	assert.Equal(t, 2, w.cache.Len())
}

func TestWorker_Tick_CompletesFinishedTasksAndUnpinsBlocks(t *testing.T) {
	w := NewWorker(10, fixedLatencyModel{prefillMs: 0, decodeMsPerTk: 10})
	_, err := w.Submit("req-1", []string{"h1"}, 0, 1)
	require.NoError(t, err)

	finished := w.Tick(10)
	assert.Equal(t, []string{"req-1"}, finished)

	// A second request can now reuse h1 as a cache hit (refcount reached 0).
	cached, _, err := w.cache.Allocate("req-2", []string{"h1"})
	require.NoError(t, err)
	assert.Contains(t, cached, "h1")
}

func TestWorker_Load_SumsRemainingLatencyAcrossLiveTasks(t *testing.T) {
	w := NewWorker(10, fixedLatencyModel{prefillMs: 100, decodeMsPerTk: 10})
	_, err := w.Submit("req-1", nil, 0, 1)
	require.NoError(t, err)
	_, err = w.Submit("req-2", nil, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, 200, w.Load())
}

func TestWorker_ActiveHashes_DeduplicatesPreservingFirstOccurrence(t *testing.T) {
	w := NewWorker(10, fixedLatencyModel{prefillMs: 0, decodeMsPerTk: 10})
	_, err := w.Submit("req-1", []string{"h1", "h2"}, 32, 1)
	require.NoError(t, err)
	_, err = w.Submit("req-2", []string{"h2", "h3"}, 32, 1)
	require.NoError(t, err)

	hashes := w.ActiveHashes()
	assert.Equal(t, []string{"h1", "h2", "h3"}, hashes)
}

func TestWorker_NewWorker_AssignsUniqueIDs(t *testing.T) {
	a := NewWorker(10, fixedLatencyModel{})
	b := NewWorker(10, fixedLatencyModel{})
	assert.NotEqual(t, a.ID, b.ID)
}

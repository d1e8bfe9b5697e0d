package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLatencyModel struct {
	prefillMs     int64
	decodeMsPerTk int64
}

func (m fixedLatencyModel) PrefillMillis(promptTokens, cachedTokens int) int64 {
	missTokens := promptTokens - cachedTokens
	if missTokens < 0 {
		missTokens = 0
	}
	return m.prefillMs + int64(missTokens)
}

func (m fixedLatencyModel) DecodeMillisPerToken() int64 {
	return m.decodeMsPerTk
}

func TestNewTask_StartsInPrefillWhenLatencyPositive(t *testing.T) {
	task := NewTask("req-1", []string{"h1"}, nil, 100, 5, fixedLatencyModel{prefillMs: 50, decodeMsPerTk: 10})
	assert.Equal(t, StagePrefill, task.Stage)
	assert.Equal(t, int64(150), task.RemainingLatencyMs)
}

func TestNewTask_FullyCachedZeroPrefill_StartsInDecode(t *testing.T) {
	cached := map[string]bool{"h1": true}
	// promptTokens == cachedTokens means missTokens == 0, prefillMs fixed to 0
	// via a model that returns 0 when nothing is missed.
	model := fixedLatencyModel{prefillMs: 0, decodeMsPerTk: 10}
	task := NewTask("req-1", []string{"h1"}, cached, 16, 3, model)
	assert.Equal(t, StageDecode, task.Stage)
	assert.Equal(t, int64(30), task.RemainingLatencyMs)
}

func TestTask_Advance_TransitionsPrefillToDecodeWithOvershoot(t *testing.T) {
	model := fixedLatencyModel{prefillMs: 10, decodeMsPerTk: 5}
	task := NewTask("req-1", nil, nil, 0, 4, model)
	require.Equal(t, StagePrefill, task.Stage)
	require.Equal(t, int64(10), task.RemainingLatencyMs)

	finished := task.Advance(15) // 10ms finishes prefill, 5ms overshoot into decode
	assert.False(t, finished)
	assert.Equal(t, StageDecode, task.Stage)
	assert.Equal(t, 3, task.DecodeTokensRemaining, "the 5ms overshoot must consume exactly one decode token")
}

func TestTask_Advance_FinishesWhenDecodeTokensExhausted(t *testing.T) {
	model := fixedLatencyModel{prefillMs: 0, decodeMsPerTk: 10}
	task := NewTask("req-1", nil, nil, 0, 2, model)
	require.Equal(t, StageDecode, task.Stage)

	finished := task.Advance(10)
	assert.False(t, finished)
	assert.Equal(t, 1, task.DecodeTokensRemaining)

	finished = task.Advance(10)
	assert.True(t, finished)
	assert.Equal(t, 0, task.DecodeTokensRemaining)
}

func TestTask_Advance_PartialDeltaDoesNotConsumeToken(t *testing.T) {
	model := fixedLatencyModel{prefillMs: 0, decodeMsPerTk: 10}
	task := NewTask("req-1", nil, nil, 0, 2, model)

	finished := task.Advance(4)
	assert.False(t, finished)
	assert.Equal(t, 2, task.DecodeTokensRemaining, "a delta smaller than one decode step must not consume a token")
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "prefill", StagePrefill.String())
	assert.Equal(t, "decode", StageDecode.String())
}

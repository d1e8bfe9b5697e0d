package worker

import "github.com/statefulrouter/statefulrouter/router"

// Stage is a Task's position in the prefill/decode lifecycle.
type Stage int

const (
	StagePrefill Stage = iota
	StageDecode
)

func (s Stage) String() string {
	if s == StageDecode {
		return "decode"
	}
	return "prefill"
}

// Task is one in-flight request on a worker: created on /v1/completions
// arrival (pins matched blocks, allocates missing), advances by a time delta
// each tick, transitions prefill -> decode when the prefill timer reaches
// zero, and is destroyed when the decode timer reaches zero (unpinning all
// its blocks).
type Task struct {
	RequestID            string
	BlockHashes          []string
	CachedBlocks         map[string]bool
	Stage                Stage
	RemainingLatencyMs   int64
	DecodeTokensRemaining int
	decodeMillisPerToken  int64
}

// NewTask creates a Task whose blocks have already been pinned via
// BlockCache.Allocate, and whose timings are derived from model. promptLen
// is len(tokens); cached is the cached-hash set returned by Allocate, and
// len(cached)*router.BlockSize is passed to the latency model as the cached
// token count to discount prefill cost for reused blocks.
func NewTask(requestID string, blockHashes []string, cached map[string]bool, promptLen, maxTokens int, model LatencyModel) *Task {
	cachedTokens := len(cached) * router.BlockSize
	t := &Task{
		RequestID:             requestID,
		BlockHashes:           blockHashes,
		CachedBlocks:          cached,
		Stage:                 StagePrefill,
		RemainingLatencyMs:    model.PrefillMillis(promptLen, cachedTokens),
		DecodeTokensRemaining: maxTokens,
		decodeMillisPerToken:  model.DecodeMillisPerToken(),
	}
	if t.RemainingLatencyMs <= 0 {
		// Degenerate (e.g. fully-cached, zero-length) prefill: advance
		// straight to decode so Advance's tick logic stays uniform.
		t.Stage = StageDecode
		t.RemainingLatencyMs = int64(t.DecodeTokensRemaining) * t.decodeMillisPerToken
	}
	return t
}

// Advance moves the task forward by deltaMs and reports whether the task is
// now finished (decode timer reached zero). Transitions prefill -> decode
// when the prefill timer reaches zero.
func (t *Task) Advance(deltaMs int64) (finished bool) {
	if t.Stage == StagePrefill {
		t.RemainingLatencyMs -= deltaMs
		if t.RemainingLatencyMs > 0 {
			return false
		}
		// Prefill done; carry over any overshoot into decode.
		overshoot := -t.RemainingLatencyMs
		t.Stage = StageDecode
		t.RemainingLatencyMs = int64(t.DecodeTokensRemaining) * t.decodeMillisPerToken
		return t.Advance(overshoot)
	}

	// Decode stage: consume whole tokens worth of time.
	for deltaMs > 0 && t.DecodeTokensRemaining > 0 {
		if t.decodeMillisPerToken <= 0 {
			t.DecodeTokensRemaining = 0
			break
		}
		if deltaMs < t.decodeMillisPerToken {
			break
		}
		deltaMs -= t.decodeMillisPerToken
		t.DecodeTokensRemaining--
	}
	t.RemainingLatencyMs = int64(t.DecodeTokensRemaining) * t.decodeMillisPerToken
	return t.DecodeTokensRemaining <= 0
}

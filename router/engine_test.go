package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokensForBlocks(n int) []int {
	tokens := make([]int, n*BlockSize)
	for i := range tokens {
		tokens[i] = i
	}
	return tokens
}

func TestRoutingEngine_ColdMissThenHit(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("worker-A", 0)
	engine := NewRoutingEngine(StrategyCacheAware, cm)

	tokens := tokensForBlocks(3)

	decision, err := engine.Route(tokens)
	require.NoError(t, err)
	assert.Equal(t, "worker-A", decision.Worker)
	assert.Equal(t, CacheMiss, decision.CacheStatus)

	decision, err = engine.Route(tokens)
	require.NoError(t, err)
	assert.Equal(t, "worker-A", decision.Worker)
	assert.Equal(t, CacheHit, decision.CacheStatus)
	assert.Equal(t, 3, decision.MatchLength)
}

func TestRoutingEngine_StickinessOverLoad(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	engine := NewRoutingEngine(StrategyCacheAware, cm)

	tokens := tokensForBlocks(2)
	_, err := engine.Route(tokens)
	require.NoError(t, err)

	cm.UpdateLoad("A", 10)
	cm.UpdateLoad("B", 0)

	decision, err := engine.Route(tokens)
	require.NoError(t, err)
	assert.Equal(t, "A", decision.Worker, "cache match must beat a lower-load competitor")
	assert.Equal(t, CacheHit, decision.CacheStatus)
}

func TestRoutingEngine_EvictionRecovery(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	engine := NewRoutingEngine(StrategyCacheAware, cm)

	tokens := tokensForBlocks(2)
	_, err := engine.Route(tokens)
	require.NoError(t, err)

	cm.UpdateLoad("A", 10)
	cm.UpdateLoad("B", 0)

	hashes := ComputeBlockHashes(tokens)
	for _, h := range hashes {
		cm.Evict("A", h)
	}

	decision, err := engine.Route(tokens)
	require.NoError(t, err)
	assert.Equal(t, "B", decision.Worker)
	assert.Equal(t, CacheMiss, decision.CacheStatus)
}

func TestRoutingEngine_SyncTruthOverridesSpeculation(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	engine := NewRoutingEngine(StrategyCacheAware, cm)

	tokens := tokensForBlocks(2)
	decision, err := engine.Route(tokens)
	require.NoError(t, err)
	require.Equal(t, CacheMiss, decision.CacheStatus)

	cm.Sync("A", []string{})

	decision, err = engine.Route(tokens)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, decision.CacheStatus)
}

func TestRoutingEngine_LongestPrefixSelection(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	cm.UpdateLoad("B", 0)

	tokens3 := tokensForBlocks(3)
	hashes3 := ComputeBlockHashes(tokens3)
	cm.Sync("A", hashes3[:2])
	cm.Sync("B", hashes3)

	engine := NewRoutingEngine(StrategyCacheAware, cm)
	tokens4 := tokensForBlocks(4)
	// Build a query sequence whose first 3 blocks match B's but whose 4th
	// block is distinct, by reusing hashes3 and appending a fresh block.
	query := append([]string{}, hashes3...)
	query = append(query, ComputeBlockHashes(tokensForBlocks(5))[4])
	w, matchLen := cm.LongestPrefixMatch(query)
	assert.Equal(t, "B", w)
	assert.Equal(t, 3, matchLen)

	// The same selection through the engine: tokens4's first 3 blocks are
	// hashes3 and its 4th block is new.
	decision, err := engine.Route(tokens4)
	require.NoError(t, err)
	assert.Equal(t, "B", decision.Worker)
	assert.Equal(t, CacheHit, decision.CacheStatus)
	assert.Equal(t, 3, decision.MatchLength)
}

func TestRoutingEngine_TieBreakRotation(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	cm.UpdateLoad("B", 0)
	engine := NewRoutingEngine(StrategyLeastLoaded, cm)

	// Reset load after every decision so each call sees an equal-load tie;
	// the strategy itself speculatively bumps load by leastLoadedBumpIncrement.
	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		decision, err := engine.Route(nil)
		require.NoError(t, err)
		counts[decision.Worker]++
		cm.UpdateLoad("A", 0)
		cm.UpdateLoad("B", 0)
	}
	assert.Equal(t, 5, counts["A"])
	assert.Equal(t, 5, counts["B"])
}

func TestRoutingEngine_NoWorkersAvailable(t *testing.T) {
	cm := NewGlobalCacheMap()
	engine := NewRoutingEngine(StrategyCacheAware, cm)
	_, err := engine.Route(tokensForBlocks(1))
	assert.ErrorIs(t, err, ErrNoWorkersAvailable)
}

func TestRoutingEngine_RoundRobin_CyclesKnownWorkers(t *testing.T) {
	cm := NewGlobalCacheMap()
	cm.UpdateLoad("A", 0)
	cm.UpdateLoad("B", 0)
	engine := NewRoutingEngine(StrategyRoundRobin, cm)

	first, err := engine.Route(nil)
	require.NoError(t, err)
	second, err := engine.Route(nil)
	require.NoError(t, err)
	third, err := engine.Route(nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Worker, second.Worker)
	assert.Equal(t, first.Worker, third.Worker)
}

func TestNewRoutingEngine_UnknownStrategyPanics(t *testing.T) {
	cm := NewGlobalCacheMap()
	assert.Panics(t, func() {
		NewRoutingEngine(Strategy("bogus"), cm)
	})
}

func TestNewRoutingEngine_EmptyStrategyDefaultsToCacheAware(t *testing.T) {
	cm := NewGlobalCacheMap()
	engine := NewRoutingEngine("", cm)
	assert.Equal(t, StrategyCacheAware, engine.strategy)
}

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRouterServeCmd_DefaultStrategyIsCacheAware(t *testing.T) {
	flag := routerServeCmd.Flags().Lookup("strategy")
	assert.NotNil(t, flag, "strategy flag must be registered")
	assert.Equal(t, "cache_aware", flag.DefValue)
}

func TestRouterServeCmd_DefaultListenAddr(t *testing.T) {
	flag := routerServeCmd.Flags().Lookup("listen")
	assert.NotNil(t, flag, "listen flag must be registered")
	assert.Equal(t, "0.0.0.0:8000", flag.DefValue)
}

func TestRouterServeCmd_ProxyModeDefaultsFalse(t *testing.T) {
	flag := routerServeCmd.Flags().Lookup("proxy")
	assert.NotNil(t, flag, "proxy flag must be registered")
	assert.Equal(t, "false", flag.DefValue)
}

func TestWorkerRunCmd_DefaultMaxBlocksIsPositive(t *testing.T) {
	flag := workerRunCmd.Flags().Lookup("max-blocks")
	assert.NotNil(t, flag, "max-blocks flag must be registered")
	assert.Equal(t, "1000", flag.DefValue)
}

func TestWorkerRunCmd_DefaultRouterURL(t *testing.T) {
	flag := workerRunCmd.Flags().Lookup("router-url")
	assert.NotNil(t, flag, "router-url flag must be registered")
	assert.Equal(t, "http://localhost:8000", flag.DefValue)
}

func TestWorkerRunCmd_ControlLoopIntervals(t *testing.T) {
	heartbeat := workerRunCmd.Flags().Lookup("heartbeat-interval")
	eviction := workerRunCmd.Flags().Lookup("eviction-interval")
	sync := workerRunCmd.Flags().Lookup("sync-interval")
	assert.NotNil(t, heartbeat)
	assert.NotNil(t, eviction)
	assert.NotNil(t, sync)
	assert.Equal(t, time.Second.String(), heartbeat.DefValue)
	assert.Equal(t, (100 * time.Millisecond).String(), eviction.DefValue)
	assert.Equal(t, (5 * time.Second).String(), sync.DefValue)
}

func TestRootCmd_RouterAndWorkerRegistered(t *testing.T) {
	var found struct{ router, worker bool }
	for _, c := range rootCmd.Commands() {
		if c.Use == "router" {
			found.router = true
		}
		if c.Use == "worker" {
			found.worker = true
		}
	}
	assert.True(t, found.router, "router subcommand must be registered")
	assert.True(t, found.worker, "worker subcommand must be registered")
}

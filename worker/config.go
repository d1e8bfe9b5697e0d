package worker

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config groups a worker process's tunables, the same plain-data-struct
// style as router.RouterConfig.
type Config struct {
	MaxBlocks  int    `yaml:"max_blocks"`
	RouterURL  string `yaml:"router_url"`
	ListenAddr string `yaml:"listen_addr"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EvictionInterval  time.Duration `yaml:"eviction_interval"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
}

// DefaultConfig returns the documented defaults: 1000 blocks, heartbeat
// every second, eviction reports coalesced every 100ms, a full sync every
// 5 seconds.
func DefaultConfig() Config {
	return Config{
		MaxBlocks:         1000,
		RouterURL:         "http://localhost:8000",
		ListenAddr:        "0.0.0.0:9000",
		HeartbeatInterval: time.Second,
		EvictionInterval:  100 * time.Millisecond,
		SyncInterval:      5 * time.Second,
	}
}

// LoadConfigOverlay reads a YAML file and overlays it onto a base config,
// using strict decoding in the same style as router.LoadRouterConfigOverlay.
func LoadConfigOverlay(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading worker config: %w", err)
	}
	cfg := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parsing worker config: %w", err)
	}
	return cfg, nil
}

package router

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RouterConfig groups the router process's tunables. Flags (whose defaults
// cmd/ takes from ROUTING_STRATEGY and PROXY_MODE when set) are read once at
// startup by cmd/ and mapped onto this struct —
// this struct itself has no flag- or env-reading logic, just plain data.
type RouterConfig struct {
	Strategy   Strategy      `yaml:"strategy"`
	ProxyMode  bool          `yaml:"proxy_mode"`
	ListenAddr string        `yaml:"listen_addr"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// DefaultRouterConfig returns the documented defaults: cache_aware strategy,
// proxy mode off, listening on 0.0.0.0:8000.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:   StrategyCacheAware,
		ProxyMode:  false,
		ListenAddr: "0.0.0.0:8000",
		StaleAfter: DefaultStaleAfter,
	}
}

// LoadRouterConfigOverlay reads a YAML file and overlays it onto a base
// config, using strict decoding so an unrecognized key fails loudly instead
// of being silently ignored.
func LoadRouterConfigOverlay(base RouterConfig, path string) (RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading router config: %w", err)
	}
	cfg := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parsing router config: %w", err)
	}
	return cfg, nil
}

// Package config provides configuration management for hubcache.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cmalloy/hubcache/internal/store"
)

// Config holds the runtime configuration
type Config struct {
	// CacheDir is the root of the durable entry store
	CacheDir string

	// GitHubToken authenticates the SDK transport; the CLI transport uses
	// the gh CLI's own login when this is empty
	GitHubToken string

	// Transport selects the GitHub backend: "cli" (default) or "sdk"
	Transport string

	// WarmInterval is the period of the background warm scheduler; zero
	// disables warming
	WarmInterval time.Duration

	// Telemetry
	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables
func Load() Config {
	cfg := Config{
		CacheDir:     os.Getenv("HUBCACHE_DIR"),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		Transport:    os.Getenv("HUBCACHE_TRANSPORT"),
		WarmInterval: 30 * time.Second, // Default
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = store.DefaultDir()
	}
	if cfg.Transport == "" {
		cfg.Transport = "cli"
	}
	cfg.TelemetryEnabled = cfg.OTLPEndpoint != ""

	// Parse warm interval if provided
	if interval := os.Getenv("HUBCACHE_WARM_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.WarmInterval = d
		}
	}

	return cfg
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	switch c.Transport {
	case "cli":
	case "sdk":
		if c.GitHubToken == "" {
			return fmt.Errorf("transport 'sdk' requires GITHUB_TOKEN")
		}
	default:
		return fmt.Errorf("unknown transport %q (expected 'cli' or 'sdk')", c.Transport)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory must not be empty")
	}
	return nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HUBCACHE_DIR", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("HUBCACHE_TRANSPORT", "")
	t.Setenv("HUBCACHE_WARM_INTERVAL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := Load()
	assert.NotEmpty(t, cfg.CacheDir)
	assert.Equal(t, "cli", cfg.Transport)
	assert.Equal(t, 30*time.Second, cfg.WarmInterval)
	assert.False(t, cfg.TelemetryEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HUBCACHE_DIR", "/var/cache/hubcache")
	t.Setenv("GITHUB_TOKEN", "ghp_secret")
	t.Setenv("HUBCACHE_TRANSPORT", "sdk")
	t.Setenv("HUBCACHE_WARM_INTERVAL", "2m")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")

	cfg := Load()
	assert.Equal(t, "/var/cache/hubcache", cfg.CacheDir)
	assert.Equal(t, "sdk", cfg.Transport)
	assert.Equal(t, 2*time.Minute, cfg.WarmInterval)
	assert.True(t, cfg.TelemetryEnabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Config{CacheDir: "/tmp/hubcache", Transport: "sdk"}
	assert.Error(t, cfg.Validate(), "sdk transport requires a token")

	cfg.GitHubToken = "ghp_secret"
	assert.NoError(t, cfg.Validate())

	cfg.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Config{Transport: "cli"}
	assert.Error(t, cfg.Validate(), "cache dir must be set")
}

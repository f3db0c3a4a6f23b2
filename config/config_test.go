package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.TTLMin)
	assert.Equal(t, 10*time.Minute, cfg.TTLMax)
	assert.Equal(t, 60*time.Second, cfg.RefreshThreshold)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 5, cfg.Quotas[UpstreamMarketData])
	assert.Equal(t, 3001, cfg.Port)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().TTLMin, cfg.TTLMin)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ttl_min: 2m
ttl_max: 4m
refresh_threshold: 45s
scheduler_interval: 15s
port: 9000
market_keys:
  - MSTR
  - STRF
quotas:
  alphavantage: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.TTLMin)
	assert.Equal(t, 4*time.Minute, cfg.TTLMax)
	assert.Equal(t, 45*time.Second, cfg.RefreshThreshold)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"MSTR", "STRF"}, cfg.MarketKeys)
	assert.Equal(t, 3, cfg.Quotas[UpstreamMarketData])
	// Untouched fields keep their defaults.
	assert.Equal(t, "btc", cfg.CryptoKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4242")
	t.Setenv(MarketDataAPIKeyEnv, "secret")
	t.Setenv("SEED_ON_STARTUP", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Port)
	assert.Equal(t, "secret", cfg.MarketDataAPIKey)
	assert.False(t, cfg.SeedOnStartup)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ttl max below min", func(c *Config) { c.TTLMax = c.TTLMin - time.Second }},
		{"threshold above ttl min", func(c *Config) { c.RefreshThreshold = c.TTLMin + time.Second }},
		{"interval not below threshold", func(c *Config) { c.SchedulerInterval = c.RefreshThreshold }},
		{"zero window", func(c *Config) { c.RateLimitWindow = 0 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"port out of range", func(c *Config) { c.Port = 0 }},
		{"no market keys", func(c *Config) { c.MarketKeys = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestThresholdEqualToTTLMinIsDegenerateButAllowed(t *testing.T) {
	cfg := Default()
	cfg.RefreshThreshold = cfg.TTLMin
	assert.NoError(t, cfg.Validate())
}

func TestKeysOrder(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"btc", "eurUsd", "MSTR", "STRF", "STRC", "STRK", "STRD"}, cfg.Keys())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	assert.Empty(t, cfg.Sandbox.URL)
	assert.Equal(t, 3, cfg.Sandbox.TopK)

	assert.Equal(t, 50, cfg.Scan.MinSize)
	assert.Equal(t, 2*time.Second, cfg.Scan.Interval)
	assert.Equal(t, 300*time.Millisecond, cfg.Scan.ScrollDebounce)
	assert.True(t, cfg.Scan.StrictOrigin)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadDefaultsMatchDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Scan, cfg.Scan)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"SANDBOX_URL":          "ws://sandbox:8001/sandbox",
		"SANDBOX_TOP_K":        "5",
		"SCAN_MIN_SIZE":        "64",
		"SCAN_PENDING_TIMEOUT": "0s",
		"SCAN_STRICT_ORIGIN":   "false",
		"LOG_LEVEL":            "debug",
		"RATE_LIMIT_ENABLED":   "false",
		"CORS_ORIGINS":         "https://ui.test,chrome-extension://abc",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "ws://sandbox:8001/sandbox", cfg.Sandbox.URL)
	assert.Equal(t, 5, cfg.Sandbox.TopK)
	assert.Equal(t, 64, cfg.Scan.MinSize)
	assert.Zero(t, cfg.Scan.PendingTimeout)
	assert.False(t, cfg.Scan.StrictOrigin)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://ui.test", "chrome-extension://abc"}, cfg.Server.CORSOrigins)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "often")

	_, err := Load()
	assert.Error(t, err)
	assert.NotNil(t, LoadOrDefault())
}

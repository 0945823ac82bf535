package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Bridge config
	assert.Equal(t, "flutter_inappwebview", cfg.Bridge.Name)
	assert.Equal(t, 30*time.Second, cfg.Bridge.CallTimeout)
	assert.False(t, cfg.Bridge.LegacyWildcard)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Breaker config
	assert.Equal(t, uint32(5), cfg.Breaker.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)

	assert.Equal(t, 64, cfg.Sandbox.MaxPages)
	assert.Equal(t, int64(5<<20), cfg.Shim.MaxPageSize)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"CORS_ORIGINS":            "https://a.example.com,https://b.example.com",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"BRIDGE_NAME":             "myBridge",
		"BRIDGE_CALL_TIMEOUT":     "2s",
		"BRIDGE_CALLS_PER_SECOND": "12.5",
		"BRIDGE_CALL_BURST":       "4",
		"BRIDGE_LEGACY_WILDCARD":  "true",
		"AJAX_RULES_FILE":         "/etc/rules.yaml",
		"BREAKER_MAX_FAILURES":    "9",
		"SANDBOX_NETWORK":         "true",
		"SHIM_FETCH_TIMEOUT":      "1m",
		"WEBVIEW_SETTINGS_FILE":   "/etc/webview.toml",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, "myBridge", cfg.Bridge.Name)
	assert.Equal(t, 2*time.Second, cfg.Bridge.CallTimeout)
	assert.Equal(t, 12.5, cfg.Bridge.CallsPerSecond)
	assert.Equal(t, 4, cfg.Bridge.CallBurst)
	assert.True(t, cfg.Bridge.LegacyWildcard)

	assert.Equal(t, "/etc/rules.yaml", cfg.Ajax.RulesFile)
	assert.Equal(t, uint32(9), cfg.Breaker.MaxFailures)
	assert.True(t, cfg.Sandbox.Network)
	assert.Equal(t, time.Minute, cfg.Shim.FetchTimeout)
	assert.Equal(t, "/etc/webview.toml", cfg.Settings.File)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"invalid int", "RATE_LIMIT_RPS", "invalid"},
		{"invalid bool", "LOG_DEV", "maybe"},
		{"invalid duration", "BRIDGE_CALL_TIMEOUT", "soon"},
		{"negative uint", "BREAKER_MAX_REQUESTS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}

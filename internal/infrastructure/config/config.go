package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Bridge    BridgeConfig
	Ajax      AjaxConfig
	Breaker   BreakerConfig
	Sandbox   SandboxConfig
	Shim      ShimConfig
	Settings  SettingsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// BridgeConfig tunes the page bridge.
type BridgeConfig struct {
	Name           string        `envconfig:"BRIDGE_NAME" default:"flutter_inappwebview"`
	CallTimeout    time.Duration `envconfig:"BRIDGE_CALL_TIMEOUT" default:"30s"`
	CallsPerSecond float64       `envconfig:"BRIDGE_CALLS_PER_SECOND" default:"0"`
	CallBurst      int           `envconfig:"BRIDGE_CALL_BURST" default:"0"`
	// LegacyWildcard matches wildcard origin rules by substring.
	LegacyWildcard bool `envconfig:"BRIDGE_LEGACY_WILDCARD" default:"false"`
}

// AjaxConfig holds request interception configuration.
type AjaxConfig struct {
	// RulesFile is a settings file whose ajaxRules apply to every page.
	RulesFile string `envconfig:"AJAX_RULES_FILE"`
}

// BreakerConfig tunes the circuit breaker guarding remote page links.
type BreakerConfig struct {
	MaxRequests uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	Interval    time.Duration `envconfig:"BREAKER_INTERVAL" default:"60s"`
	Timeout     time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	MaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
}

// SandboxConfig bounds headless pages.
type SandboxConfig struct {
	MaxPages    int           `envconfig:"SANDBOX_MAX_PAGES" default:"64"`
	EvalTimeout time.Duration `envconfig:"SANDBOX_EVAL_TIMEOUT" default:"5s"`
	Network     bool          `envconfig:"SANDBOX_NETWORK" default:"false"`
}

// ShimConfig configures the framed page shim.
type ShimConfig struct {
	FetchTimeout time.Duration `envconfig:"SHIM_FETCH_TIMEOUT" default:"15s"`
	EvalTimeout  time.Duration `envconfig:"SHIM_EVAL_TIMEOUT" default:"10s"`
	MaxPageSize  int64         `envconfig:"SHIM_MAX_PAGE_SIZE" default:"5242880"`
}

// SettingsConfig locates the default webview settings.
type SettingsConfig struct {
	File string `envconfig:"WEBVIEW_SETTINGS_FILE"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Bridge: BridgeConfig{
			Name:        "flutter_inappwebview",
			CallTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			MaxFailures: 5,
		},
		Sandbox: SandboxConfig{
			MaxPages:    64,
			EvalTimeout: 5 * time.Second,
		},
		Shim: ShimConfig{
			FetchTimeout: 15 * time.Second,
			EvalTimeout:  10 * time.Second,
			MaxPageSize:  5 << 20,
		},
	}
}

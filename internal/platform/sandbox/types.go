package sandbox

import (
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
)

// Config defines page configuration
type Config struct {
	Kind             platform.Kind // KindContentWorlds or KindLegacy
	Timeout          time.Duration // Per-evaluation timeout
	EnableConsole    bool          // Capture console.log/warn/error
	EnableNetwork    bool          // Let XMLHttpRequest reach the network
	MaxCallStackSize int           // Zero keeps the goja default
	MaxTimerRuns     int           // Timer callbacks per flush
	HTTPClient       *resty.Client // Optional client for XMLHttpRequest
}

// LogEntry represents console output
type LogEntry struct {
	World   string    // Content world name
	Level   string    // log, warn, error, info, debug
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns a content-world page with console capture and no
// network access.
func DefaultConfig() Config {
	return Config{
		Kind:             platform.KindContentWorlds,
		Timeout:          5 * time.Second,
		EnableConsole:    true,
		EnableNetwork:    false,
		MaxCallStackSize: 1024,
		MaxTimerRuns:     10000,
	}
}

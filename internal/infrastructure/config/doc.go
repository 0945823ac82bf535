// Package config provides environment-based configuration for the webview
// bridge host.
//
// Configuration Sections:
//   - Server: HTTP listener and CORS origins
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting of the HTTP API
//   - Bridge: Bridge name, call timeout and per-page call rate
//   - Ajax: Request interception rules shared by every page
//   - Breaker: Circuit breaker guarding remote page links
//   - Sandbox: Limits of headless pages
//   - Shim: Framed page fetching and evaluation
//   - Settings: Default webview settings file
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, CORS_ORIGINS
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - BRIDGE_NAME, BRIDGE_CALL_TIMEOUT, BRIDGE_CALLS_PER_SECOND, BRIDGE_CALL_BURST
//   - AJAX_RULES_FILE, WEBVIEW_SETTINGS_FILE
package config

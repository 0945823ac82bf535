// Package main is the entry point for the webbridge host.
//
// The host opens pages, installs the JavaScript bridge and plugin scripts
// into them, and exposes page control over HTTP. Pages run either in the
// in-process goja sandbox or, for shim pages, in a real browser that loads
// the rewritten document from /shim/:id and links back over a websocket.
//
// Architecture:
//
//	HTTP client → gin API → page.Manager → webview.Controller
//	                                      → sandbox.Page (goja)
//	                                      → webshim.Link (browser)
//
// Configuration:
//   - Environment variables (12-factor, see internal/infrastructure/config)
//   - CLI flags (override env vars)
//   - WEBVIEW_SETTINGS_FILE for default page settings
//   - AJAX_RULES_FILE for shared request interception rules
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -settings settings.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
//	# Substring wildcard origin matching
//	./server -legacy-wildcard
package main

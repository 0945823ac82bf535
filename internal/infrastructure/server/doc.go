// Package server assembles the webbridge host: logging, metrics, tracing,
// the page manager and the gin router with its middleware chain.
package server

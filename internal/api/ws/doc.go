// Package ws serves the websocket side of shim pages.
//
// A document served by the shim frame route runs a small bootstrap that
// dials back to /shim/:id/link. The handler upgrades that request and
// hands the connection to the page's webshim.Link, which then carries
// evaluations from the host and bridge messages from the page.
//
// Frames (page to host):
//   - hello: document attached, carries its url
//   - result: outcome of an evaluate frame
//   - message: a named host message posted by an injected script
//
// Frames (host to page):
//   - evaluate: run source in the document
//
// Example Usage:
//
//	handler := ws.NewHandler(pages, logger)
//	router.GET("/shim/:id/link", handler.HandleLink)
package ws

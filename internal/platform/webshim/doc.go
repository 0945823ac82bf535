// Package webshim hosts pages that cannot run native user scripts.
//
// The host fetches the page, injects the bridge scripts into its HTML and
// serves the result inside a frame. A bootstrap script at the top of
// <head> opens a WebSocket back to the host; Link speaks the other end of
// that socket and implements platform.Adapter on top of it.
//
//	doc, err := fetcher.Fetch(ctx, "https://example.com/")
//	html, err := link.Render(doc)
//	// serve html, then hand the page's socket to link.Serve
package webshim

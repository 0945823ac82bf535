// Package page keeps the open pages of a host: one webview controller per
// page, parent and child windows, and which page has focus.
package page

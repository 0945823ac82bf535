// Package observer provides the auxiliary page observers: window focus and
// blur, print requests, the last touched anchor or image, viewport capture
// with zoom control, and the console relay.
package observer

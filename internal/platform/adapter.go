// Package platform defines the seam between the bridge core and a concrete
// page host.
//
// The core never touches page objects directly. It evaluates generated
// source through an Adapter, installs materialized scripts through it and
// receives page messages from it. Three hosts implement the contract:
// content-world capable engines, legacy engines without isolated worlds or
// user script support, and the iframe-based web shim.
package platform

import (
	"context"
	"errors"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
)

var (
	ErrClosed           = errors.New("page is closed")
	ErrNotLoaded        = errors.New("page is not loaded")
	ErrEvaluationFailed = errors.New("page evaluation failed")
)

// Kind identifies the injection capabilities of a host.
type Kind int

const (
	// KindContentWorlds hosts support user scripts per content world.
	KindContentWorlds Kind = iota
	// KindLegacy hosts have a single world and inject by evaluation.
	KindLegacy
	// KindWebShim hosts frame the page and inject into its HTML.
	KindWebShim
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindContentWorlds:
		return "content_worlds"
	case KindLegacy:
		return "legacy"
	case KindWebShim:
		return "web_shim"
	default:
		return "unknown"
	}
}

// SupportsContentWorlds reports whether scripts can run in isolated worlds.
func (k Kind) SupportsContentWorlds() bool {
	return k == KindContentWorlds
}

// FrameInfo describes the frame a message came from, as seen by the host.
type FrameInfo struct {
	URL         string
	IsMainFrame bool
}

// Message is a page-to-host message posted to a named handler.
type Message struct {
	Name  string
	Body  []byte
	World script.ContentWorld
	Frame FrameInfo
}

// MessageHandler receives page messages.
type MessageHandler func(ctx context.Context, msg Message)

// Adapter is implemented by every page host.
type Adapter interface {
	Kind() Kind
	// EvaluateInPage runs source in the main frame of the given world and
	// returns its completion value.
	EvaluateInPage(ctx context.Context, source string, world script.ContentWorld) (interface{}, error)
	// InstallScripts replaces the scripts injected on the next page load.
	InstallScripts(ctx context.Context, scripts []script.InjectableScript) error
	// AddMessageHandler exposes a named page-to-host channel in a world.
	AddMessageHandler(name string, world script.ContentWorld) error
	// PostToHostSource is a JavaScript expression evaluating to
	// function(name, message) that posts to the host from the page.
	PostToHostSource() string
	// OnHostMessage sets the receiver of page messages.
	OnHostMessage(h MessageHandler)
}

// SourceFor returns the source an adapter of kind k injects for s. Hosts
// that cannot defer scripts to document end or restrict them to the main
// frame get the equivalent page-side guards.
func SourceFor(k Kind, s script.InjectableScript) string {
	src := s.Materialize()
	if src == "" {
		return ""
	}
	if k != KindLegacy {
		return src
	}
	if s.InjectionTime == script.AtDocumentEnd {
		src = script.WrapDocumentEnd(src)
	}
	if s.ForMainFrameOnly {
		src = script.WrapMainFrameOnly(src)
	}
	return src
}

// WorldFor maps a requested world onto one the host supports.
func WorldFor(k Kind, w script.ContentWorld) script.ContentWorld {
	if !k.SupportsContentWorlds() || w.Name == "" {
		return script.PageWorld
	}
	return w
}

package script

import (
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
)

// InjectionTime is the document lifecycle point a script is injected at.
type InjectionTime int

const (
	AtDocumentStart InjectionTime = iota
	AtDocumentEnd
)

// String returns the injection time name.
func (t InjectionTime) String() string {
	switch t {
	case AtDocumentStart:
		return "document_start"
	case AtDocumentEnd:
		return "document_end"
	default:
		return "unknown"
	}
}

// ParseInjectionTime maps a settings value to an InjectionTime.
func ParseInjectionTime(s string) InjectionTime {
	switch s {
	case "document_end", "AT_DOCUMENT_END", "atDocumentEnd", "end":
		return AtDocumentEnd
	default:
		return AtDocumentStart
	}
}

// Frame distinguishes the top-level document from nested frames.
type Frame int

const (
	MainFrame Frame = iota
	SubFrame
)

// ContentWorld is an isolated JavaScript execution context within a page.
type ContentWorld struct {
	Name string
}

var (
	// PageWorld is shared with page script.
	PageWorld = ContentWorld{Name: "page"}
	// DefaultClientWorld is the default isolated world for host scripts.
	DefaultClientWorld = ContentWorld{Name: "defaultClient"}
)

// World returns the content world with the given name. An empty name
// selects the page world.
func World(name string) ContentWorld {
	if name == "" {
		return PageWorld
	}
	return ContentWorld{Name: name}
}

// IsPage reports whether w is the page world.
func (w ContentWorld) IsPage() bool {
	return w.Name == "" || w.Name == PageWorld.Name
}

// InjectableScript is a user or plugin script managed by a Registry.
//
// A nil AllowedOriginRules means the script runs on every origin. An empty
// non-nil list means it runs nowhere.
type InjectableScript struct {
	GroupName                  string
	Source                     string
	InjectionTime              InjectionTime
	ForMainFrameOnly           bool
	AllowedOriginRules         []origin.Rule
	RequiredInAllContentWorlds bool
	MessageHandlerNames        []string
	ContentWorld               ContentWorld
	Plugin                     bool
}

// InWorld returns a copy of the script bound to another content world.
func (s InjectableScript) InWorld(w ContentWorld) InjectableScript {
	c := s
	c.ContentWorld = w
	if s.AllowedOriginRules != nil {
		c.AllowedOriginRules = append([]origin.Rule{}, s.AllowedOriginRules...)
	}
	c.MessageHandlerNames = append([]string(nil), s.MessageHandlerNames...)
	return c
}

// Materialize returns the source with its origin guard applied.
func (s InjectableScript) Materialize() string {
	return Materialize(s)
}

// HandlerRegistrar wires page-to-host message handler names into the
// transport. Registries call it before storing a script that posts to the
// host.
type HandlerRegistrar interface {
	AddMessageHandler(name string, world ContentWorld) error
}

// HandlerRegistrarFunc adapts a function to HandlerRegistrar.
type HandlerRegistrarFunc func(name string, world ContentWorld) error

// AddMessageHandler calls f.
func (f HandlerRegistrarFunc) AddMessageHandler(name string, world ContentWorld) error {
	return f(name, world)
}

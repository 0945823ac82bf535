package webmessage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// ListenerGroupPrefix prefixes the script group of every listener.
const ListenerGroupPrefix = "WebMessageListener-"

// PostMessageFunc receives messages a page posted through a listener
// object. reply talks back to that object.
type PostMessageFunc func(ctx context.Context, msg *Message, sourceOrigin string, isMainFrame bool, reply *ReplyProxy)

// Listener exposes window.<JSObjectName> on pages whose origin is allowed.
type Listener struct {
	JSObjectName       string
	AllowedOriginRules []origin.Rule
	OnPostMessage      PostMessageFunc
}

// NewListener parses the origin rules and builds a listener.
func NewListener(jsObjectName string, rules []string, fn PostMessageFunc) (*Listener, error) {
	parsed, err := origin.ParseAll(rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidListener, jsObjectName, err)
	}
	if parsed == nil {
		parsed = []origin.Rule{}
	}
	return &Listener{JSObjectName: jsObjectName, AllowedOriginRules: parsed, OnPostMessage: fn}, nil
}

// ReplyProxy posts messages back to the listener object in the page.
type ReplyProxy struct {
	manager      *Manager
	jsObjectName string
}

// PostMessage dispatches msg to the page object's onmessage and message
// listeners.
func (r *ReplyProxy) PostMessage(ctx context.Context, msg *Message) error {
	_, err := r.manager.evaluate(ctx, replyScript(r.jsObjectName, msg))
	r.manager.record(OpListenerReply, err)
	return err
}

// AddListener registers l and returns the plugin script installing its
// page object. Object names must be unique per manager.
func (m *Manager) AddListener(l *Listener) (script.InjectableScript, error) {
	if l == nil || !utils.IsJSIdentifier(l.JSObjectName) {
		return script.InjectableScript{}, fmt.Errorf("%w: object name must be a JavaScript identifier", ErrInvalidListener)
	}
	if l.AllowedOriginRules == nil {
		return script.InjectableScript{}, fmt.Errorf("%w: %s has no origin rules", ErrInvalidListener, l.JSObjectName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.listeners {
		if existing.JSObjectName == l.JSObjectName {
			return script.InjectableScript{}, fmt.Errorf("%w: %s", ErrDuplicateObject, l.JSObjectName)
		}
	}
	m.listeners = append(m.listeners, l)

	return script.InjectableScript{
		GroupName:           ListenerGroupPrefix + l.JSObjectName,
		Source:              listenerSource(l.JSObjectName, m.postToHost),
		InjectionTime:       script.AtDocumentStart,
		AllowedOriginRules:  l.AllowedOriginRules,
		MessageHandlerNames: []string{ListenerMessageHandler},
		Plugin:              true,
	}, nil
}

// Listeners returns the registered object names in registration order.
func (m *Manager) Listeners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.listeners))
	for i, l := range m.listeners {
		names[i] = l.JSObjectName
	}
	return names
}

type listenerPayload struct {
	JSObjectName string   `json:"jsObjectName"`
	Message      *Message `json:"message"`
}

// HandleListenerMessage routes an onWebMessageListenerPostMessageReceived
// payload posted from sourceURL. Messages from origins the listener does
// not allow are rejected with ErrOriginNotAllowed.
func (m *Manager) HandleListenerMessage(ctx context.Context, body []byte, sourceURL string, isMainFrame bool) error {
	var payload listenerPayload
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m.mu.Lock()
	var l *Listener
	for _, candidate := range m.listeners {
		if candidate.JSObjectName == payload.JSObjectName {
			l = candidate
			break
		}
	}
	m.mu.Unlock()

	if l == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownListener, payload.JSObjectName)
		m.record(OpListenerPost, err)
		return err
	}
	if !m.matcher.IsURLAllowed(l.AllowedOriginRules, sourceURL) {
		m.logger.Warn("Web message listener origin rejected",
			zap.String("object", l.JSObjectName),
			zap.String("source", sourceURL),
		)
		err := fmt.Errorf("%w: %s from %s", ErrOriginNotAllowed, l.JSObjectName, sourceURL)
		m.record(OpListenerPost, err)
		return err
	}

	m.record(OpListenerPost, nil)
	if l.OnPostMessage != nil {
		reply := &ReplyProxy{manager: m, jsObjectName: l.JSObjectName}
		l.OnPostMessage(ctx, payload.Message, sourceOrigin(sourceURL), isMainFrame, reply)
	}
	return nil
}

// sourceOrigin returns scheme://host[:port] of rawURL, or "null" for
// opaque origins.
func sourceOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "null"
	}
	return u.Scheme + "://" + u.Host
}

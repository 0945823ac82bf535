package webmessage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// Page-to-host message handler names.
const (
	PortMessageHandler     = "onWebMessagePortMessageReceived"
	ListenerMessageHandler = "onWebMessageListenerPostMessageReceived"
)

// Operations reported to the Recorder.
const (
	OpCreateChannel  = "create_channel"
	OpSetCallback    = "set_callback"
	OpPost           = "post"
	OpClose          = "close"
	OpDispose        = "dispose"
	OpPostWebMessage = "post_web_message"
	OpReceive        = "receive"
	OpListenerPost   = "listener_post"
	OpListenerReply  = "listener_reply"
)

// Recorder receives web message metrics.
type Recorder interface {
	RecordWebMessage(op, outcome string)
}

// Config configures a Manager.
type Config struct {
	// Name is the page-side bridge name.
	Name string
	// PostToHost is the page expression delivering messages to the host.
	PostToHost string
	// Matcher checks listener message origins.
	Matcher origin.Matcher
	// NewID allocates channel ids.
	NewID func() string
}

// Manager owns the channels and listeners of one page. Page objects are
// only touched through evaluated scripts.
type Manager struct {
	name       string
	postToHost string
	matcher    origin.Matcher
	newID      func() string
	evaluator  bridge.Evaluator
	logger     *zap.Logger
	recorder   Recorder

	mu        sync.Mutex
	channels  map[string]*Channel
	listeners []*Listener
}

// NewManager creates a manager evaluating scripts through evaluator.
func NewManager(cfg Config, evaluator bridge.Evaluator, logger *zap.Logger, recorder Recorder) *Manager {
	if cfg.Name == "" {
		cfg.Name = bridge.DefaultName
	}
	if cfg.PostToHost == "" {
		cfg.PostToHost = bridge.WebKitPostToHost
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return id.NewChannelID().String() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		name:       cfg.Name,
		postToHost: cfg.PostToHost,
		matcher:    cfg.Matcher,
		newID:      cfg.NewID,
		evaluator:  evaluator,
		logger:     logger,
		recorder:   recorder,
		channels:   make(map[string]*Channel),
	}
}

// CreateChannel creates a MessageChannel in the page and returns its host
// view.
func (m *Manager) CreateChannel(ctx context.Context) (*Channel, error) {
	c := &Channel{id: m.newID(), manager: m}
	c.ports = [2]*Port{{channel: c, index: 0}, {channel: c, index: 1}}

	if _, err := m.evaluate(ctx, createScript(m.name, c.id)); err != nil {
		m.record(OpCreateChannel, err)
		return nil, fmt.Errorf("create channel: %w", err)
	}

	m.mu.Lock()
	m.channels[c.id] = c
	m.mu.Unlock()

	m.record(OpCreateChannel, nil)
	m.logger.Debug("Web message channel created", zap.String("channel_id", c.id))
	return c, nil
}

// Channel returns a live channel by id.
func (m *Manager) Channel(channelID string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	return c, ok
}

// Len returns the number of live channels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// PostWebMessage dispatches a message event on the page window. Ports are
// validated and transferred the same way Port.PostMessage does it.
func (m *Manager) PostWebMessage(ctx context.Context, msg *Message, targetOrigin string, transfer ...*Port) error {
	m.mu.Lock()
	if err := validateTransferLocked(m, OpPostWebMessage, nil, transfer); err != nil {
		m.mu.Unlock()
		m.record(OpPostWebMessage, err)
		return err
	}
	markTransferredLocked(transfer, true)
	m.mu.Unlock()

	_, err := m.evaluate(ctx, windowPostScript(m.name, msg, normalizeTargetOrigin(targetOrigin), transfer))
	if err != nil {
		m.mu.Lock()
		markTransferredLocked(transfer, false)
		m.mu.Unlock()
	}
	m.record(OpPostWebMessage, err)
	return err
}

type portPayload struct {
	WebMessageChannelID string   `json:"webMessageChannelId"`
	Index               int      `json:"index"`
	Message             *Message `json:"message"`
}

// HandlePortMessage routes an onWebMessagePortMessageReceived payload to
// the port callback. Messages for closed or unstarted ports are dropped.
func (m *Manager) HandlePortMessage(ctx context.Context, body []byte) error {
	var payload portPayload
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m.mu.Lock()
	c, ok := m.channels[payload.WebMessageChannelID]
	if !ok || payload.Index < 0 || payload.Index > 1 {
		m.mu.Unlock()
		err := fmt.Errorf("%w: %s[%d]", ErrUnknownChannel, payload.WebMessageChannelID, payload.Index)
		m.record(OpReceive, err)
		return err
	}
	p := c.ports[payload.Index]
	cb := p.callback
	if p.closed {
		cb = nil
	}
	m.mu.Unlock()

	m.record(OpReceive, nil)
	if cb != nil {
		cb(ctx, payload.Message)
	}
	return nil
}

// Reset forgets every channel without touching the page, for when the page
// went away on its own.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		for _, p := range c.ports {
			p.closed = true
			p.callback = nil
		}
	}
	m.channels = make(map[string]*Channel)
}

// Dispose disposes every channel and drops the listeners. Page failures are
// logged; the host state is cleared regardless.
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		channels = append(channels, c)
	}
	m.listeners = nil
	m.mu.Unlock()

	for _, c := range channels {
		if err := c.Dispose(ctx); err != nil {
			m.logger.Debug("Web message channel dispose failed",
				zap.String("channel_id", c.id),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) evaluate(ctx context.Context, source string) (interface{}, error) {
	return m.evaluator.EvaluateInPage(ctx, source, script.PageWorld)
}

func (m *Manager) record(op string, err error) {
	if m.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.recorder.RecordWebMessage(op, outcome)
}

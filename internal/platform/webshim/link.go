package webshim

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/resilience"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

//go:embed link.js
var linkJS string

// PostToHost posts through the link the bootstrap script opens.
const PostToHost = `(function() {
  var link = window.__webShimLink;
  return function(name, message) {
    link.post(name, message);
  };
})()`

// Frame types exchanged over the link.
const (
	FrameHello    = "hello"
	FrameEvaluate = "evaluate"
	FrameResult   = "result"
	FrameMessage  = "message"
)

var ErrLinkReplaced = errors.New("page link replaced by a newer connection")

// Frame is one link message.
type Frame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id,omitempty"`
	Source string      `json:"source,omitempty"`
	Value  interface{} `json:"value,omitempty"`
	Error  string      `json:"error,omitempty"`
	Name   string      `json:"name,omitempty"`
	Body   string      `json:"body,omitempty"`
	URL    string      `json:"url,omitempty"`
}

// Recorder receives link metrics.
type Recorder interface {
	RecordLinkMessage(direction, msgType string)
	RecordEvaluation(adapter, status string, d time.Duration)
	LinkConnected()
	LinkClosed()
}

// Config tunes a Link.
type Config struct {
	// LinkPath is the host path the framed page connects back to.
	LinkPath     string
	EvalTimeout  time.Duration
	WriteTimeout time.Duration
	InboxSize    int
	Breaker      resilience.Settings
}

type result struct {
	value interface{}
	err   error
}

// Link is the host side of a framed page. It implements platform.Adapter
// by evaluating over a WebSocket the page opens from its bootstrap script.
//
// Page messages are handed to the host handler from a separate goroutine,
// so handlers may evaluate back into the page while the reader keeps
// collecting results.
type Link struct {
	cfg      Config
	logger   *zap.Logger
	breaker  *resilience.Breaker
	recorder Recorder

	mu        sync.Mutex
	conn      *websocket.Conn
	docURL    string
	scripts   []script.InjectableScript
	handlers  map[string]struct{}
	pending   map[string]chan result
	onMessage platform.MessageHandler
	seq       uint64
	closed    bool

	writeMu sync.Mutex
	inbox   chan platform.Message
	done    chan struct{}
}

var _ platform.Adapter = (*Link)(nil)

// NewLink creates an unconnected link.
func NewLink(cfg Config, logger *zap.Logger, recorder Recorder) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.Breaker.IsFailure == nil {
		// Only timeouts and transport errors count against the link.
		cfg.Breaker.IsFailure = func(err error) bool {
			switch {
			case errors.Is(err, context.Canceled),
				errors.Is(err, platform.ErrEvaluationFailed),
				errors.Is(err, platform.ErrNotLoaded),
				errors.Is(err, platform.ErrClosed):
				return false
			}
			return true
		}
	}

	l := &Link{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		handlers: make(map[string]struct{}),
		pending:  make(map[string]chan result),
		inbox:    make(chan platform.Message, cfg.InboxSize),
		done:     make(chan struct{}),
	}
	l.breaker = resilience.New("webshim"+cfg.LinkPath, cfg.Breaker)
	go l.deliver()
	return l
}

// Kind returns platform.KindWebShim.
func (l *Link) Kind() platform.Kind {
	return platform.KindWebShim
}

// PostToHostSource returns the page-side posting function.
func (l *Link) PostToHostSource() string {
	return PostToHost
}

// OnHostMessage sets the receiver of page messages.
func (l *Link) OnHostMessage(h platform.MessageHandler) {
	l.mu.Lock()
	l.onMessage = h
	l.mu.Unlock()
}

// InstallScripts replaces the scripts rendered into the next document.
func (l *Link) InstallScripts(_ context.Context, scripts []script.InjectableScript) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return platform.ErrClosed
	}
	l.scripts = append([]script.InjectableScript(nil), scripts...)
	return nil
}

// AddMessageHandler accepts messages posted under name. The shim has a
// single world, so world is ignored.
func (l *Link) AddMessageHandler(name string, _ script.ContentWorld) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return platform.ErrClosed
	}
	l.handlers[name] = struct{}{}
	return nil
}

// Render injects the link bootstrap and the installed scripts into doc.
func (l *Link) Render(doc *Document) (string, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return "", platform.ErrClosed
	}
	l.docURL = doc.URL
	scripts := l.scripts
	l.mu.Unlock()

	start, end := Split(scripts)
	bootstrap := strings.NewReplacer(
		"__LINK_PATH__", utils.JSString(l.cfg.LinkPath),
		"__DOCUMENT_URL__", utils.JSString(doc.URL),
	).Replace(linkJS)

	return Inject(doc.HTML, Injection{
		BaseURL:   doc.URL,
		Bootstrap: bootstrap,
		Start:     start,
		End:       end,
	})
}

// Connected reports whether a page is attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Serve attaches conn as the page connection and reads frames until it
// closes. A newer connection replaces an older one.
func (l *Link) Serve(ctx context.Context, conn *websocket.Conn) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return platform.ErrClosed
	}
	prev := l.conn
	l.conn = conn
	l.failPendingLocked(ErrLinkReplaced)
	l.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	if l.recorder != nil {
		l.recorder.LinkConnected()
		defer l.recorder.LinkClosed()
	}

	err := l.read(ctx, conn)

	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.failPendingLocked(platform.ErrNotLoaded)
	}
	l.mu.Unlock()
	_ = conn.Close()
	return err
}

func (l *Link) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var f Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			l.logger.Debug("Dropping malformed link frame", zap.Error(err))
			continue
		}
		l.record("in", f.Type)

		switch f.Type {
		case FrameHello:
			l.logger.Debug("Page link connected", zap.String("url", f.URL))
		case FrameResult:
			l.resolve(f)
		case FrameMessage:
			l.enqueue(ctx, f)
		default:
			l.logger.Debug("Dropping unknown link frame", zap.String("type", f.Type))
		}
	}
}

func (l *Link) resolve(f Frame) {
	l.mu.Lock()
	ch, ok := l.pending[f.ID]
	delete(l.pending, f.ID)
	l.mu.Unlock()
	if !ok {
		return
	}

	r := result{value: f.Value}
	if f.Error != "" {
		r = result{err: fmt.Errorf("%w: %s", platform.ErrEvaluationFailed, f.Error)}
	}
	ch <- r
}

func (l *Link) enqueue(ctx context.Context, f Frame) {
	l.mu.Lock()
	_, known := l.handlers[f.Name]
	frameURL := l.docURL
	l.mu.Unlock()
	if !known {
		l.logger.Debug("Dropping message for unknown handler", zap.String("handler", f.Name))
		return
	}

	body := f.Body
	if body == "" {
		body = "null"
	}
	msg := platform.Message{
		Name:  f.Name,
		Body:  []byte(body),
		World: script.PageWorld,
		Frame: platform.FrameInfo{URL: frameURL, IsMainFrame: true},
	}

	select {
	case l.inbox <- msg:
	case <-ctx.Done():
	case <-l.done:
	}
}

func (l *Link) deliver() {
	for {
		select {
		case msg := <-l.inbox:
			l.mu.Lock()
			h := l.onMessage
			l.mu.Unlock()
			if h != nil {
				h(context.Background(), msg)
			}
		case <-l.done:
			return
		}
	}
}

// EvaluateInPage sends source to the attached page and waits for its
// completion value. Calls go through the link's circuit breaker.
func (l *Link) EvaluateInPage(ctx context.Context, source string, _ script.ContentWorld) (interface{}, error) {
	var value interface{}
	start := time.Now()
	err := l.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		value, err = l.evaluate(ctx, source)
		return err
	})

	if l.recorder != nil {
		status := "ok"
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
			status = "rejected"
		case err != nil:
			status = "error"
		}
		l.recorder.RecordEvaluation(platform.KindWebShim.String(), status, time.Since(start))
	}
	return value, err
}

func (l *Link) evaluate(ctx context.Context, source string) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.EvalTimeout)
	defer cancel()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, platform.ErrClosed
	}
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return nil, platform.ErrNotLoaded
	}
	l.seq++
	id := strconv.FormatUint(l.seq, 10)
	ch := make(chan result, 1)
	l.pending[id] = ch
	l.mu.Unlock()

	if err := l.write(conn, Frame{Type: FrameEvaluate, ID: id, Source: source}); err != nil {
		l.forget(id)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		l.forget(id)
		return nil, ctx.Err()
	}
}

func (l *Link) write(conn *websocket.Conn, f Frame) error {
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write link frame: %w", err)
	}
	l.record("out", f.Type)
	return nil
}

func (l *Link) forget(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *Link) failPendingLocked(err error) {
	for id, ch := range l.pending {
		ch <- result{err: err}
		delete(l.pending, id)
	}
}

func (l *Link) record(direction, msgType string) {
	if l.recorder != nil {
		l.recorder.RecordLinkMessage(direction, msgType)
	}
}

// Breaker exposes the link's circuit breaker.
func (l *Link) Breaker() *resilience.Breaker {
	return l.breaker
}

// Close detaches the page and fails pending evaluations.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.failPendingLocked(platform.ErrClosed)
	l.mu.Unlock()

	close(l.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

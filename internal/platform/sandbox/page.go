package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
)

// LegacyPostToHost posts through the single native binding of legacy
// pages.
const LegacyPostToHost = `(function() {
  var post = window.__nativeHostPost;
  return function(name, message) {
    post(name, message);
  };
})()`

var ErrInterrupted = errors.New("page evaluation interrupted")

// Page is a headless main frame backed by goja. It implements
// platform.Adapter for content-world and legacy hosts.
//
// Every evaluation holds the page lock. Messages the page posts are queued
// and handed to the host message handler once the lock is released, so
// handlers may evaluate back into the page.
type Page struct {
	cfg    Config
	logger *zap.Logger
	http   *resty.Client

	mu           sync.Mutex
	location     *url.URL
	worlds       map[string]*world
	scripts      []script.InjectableScript
	handlerNames map[string]map[string]struct{}
	console      []LogEntry
	timers       []*timer
	timerSeq     int64
	now          time.Duration
	outbox       []platform.Message
	onMessage    platform.MessageHandler
	delivering   bool
	loaded       bool
	closed       bool
}

var _ platform.Adapter = (*Page)(nil)

// New creates an unloaded page. Call Navigate before evaluating.
func New(cfg Config, logger *zap.Logger) (*Page, error) {
	if cfg.Kind != platform.KindContentWorlds && cfg.Kind != platform.KindLegacy {
		return nil, fmt.Errorf("unsupported page kind %s", cfg.Kind)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTimerRuns <= 0 {
		cfg.MaxTimerRuns = DefaultConfig().MaxTimerRuns
	}
	blank, _ := url.Parse("about:blank")
	return &Page{
		cfg:          cfg,
		logger:       logger,
		http:         newHTTPClient(cfg),
		location:     blank,
		worlds:       make(map[string]*world),
		handlerNames: make(map[string]map[string]struct{}),
	}, nil
}

// Kind returns the host kind the page emulates.
func (p *Page) Kind() platform.Kind {
	return p.cfg.Kind
}

// PostToHostSource returns the page-side posting function for the kind.
func (p *Page) PostToHostSource() string {
	if p.cfg.Kind == platform.KindLegacy {
		return LegacyPostToHost
	}
	return bridge.WebKitPostToHost
}

// OnHostMessage sets the receiver of page messages.
func (p *Page) OnHostMessage(h platform.MessageHandler) {
	p.mu.Lock()
	p.onMessage = h
	p.mu.Unlock()
}

// InstallScripts replaces the scripts injected on the next navigation.
func (p *Page) InstallScripts(_ context.Context, scripts []script.InjectableScript) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return platform.ErrClosed
	}
	p.scripts = append([]script.InjectableScript(nil), scripts...)
	return nil
}

// AddMessageHandler exposes window.webkit.messageHandlers[name] in world.
// Legacy pages accept every name through their single binding.
func (p *Page) AddMessageHandler(name string, world script.ContentWorld) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return platform.ErrClosed
	}

	wn := platform.WorldFor(p.cfg.Kind, world).Name
	names := p.handlerNames[wn]
	if names == nil {
		names = make(map[string]struct{})
		p.handlerNames[wn] = names
	}
	if _, ok := names[name]; ok {
		return nil
	}
	names[name] = struct{}{}

	if w, ok := p.worlds[wn]; ok && w.handlers != nil {
		return p.bindHandler(w, name)
	}
	return nil
}

// Navigate loads rawURL: fresh worlds are created, document-start scripts
// run, the document becomes interactive, document-end scripts run and the
// load event fires.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	loc, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid page url: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return platform.ErrClosed
	}
	p.location = loc
	p.worlds = make(map[string]*world)
	p.timers = nil
	p.outbox = nil
	p.loaded = true

	err = p.loadLocked(ctx)
	p.runDueTimersLocked(ctx)
	p.mu.Unlock()

	p.deliver(ctx)
	return err
}

func (p *Page) loadLocked(ctx context.Context) error {
	if _, err := p.worldLocked(script.PageWorld); err != nil {
		return err
	}

	legacy := p.cfg.Kind == platform.KindLegacy
	for _, s := range p.scripts {
		if legacy || s.InjectionTime == script.AtDocumentStart {
			if err := p.injectLocked(ctx, s); err != nil {
				return err
			}
		}
	}

	p.setReadyStateLocked(ctx, "interactive", "DOMContentLoaded", false)

	if !legacy {
		for _, s := range p.scripts {
			if s.InjectionTime == script.AtDocumentEnd {
				if err := p.injectLocked(ctx, s); err != nil {
					return err
				}
			}
		}
	}

	p.setReadyStateLocked(ctx, "complete", "load", true)
	return nil
}

func (p *Page) injectLocked(ctx context.Context, s script.InjectableScript) error {
	src := platform.SourceFor(p.cfg.Kind, s)
	if src == "" {
		return nil
	}
	w, err := p.worldLocked(platform.WorldFor(p.cfg.Kind, s.ContentWorld))
	if err != nil {
		return err
	}
	if _, err := p.runLocked(ctx, w, src); err != nil {
		// A throwing user script does not stop the page from loading.
		p.logLocked(w.name, "error", err.Error())
		p.logger.Debug("Injected script failed", zap.String("group", s.GroupName), zap.Error(err))
	}
	return nil
}

func (p *Page) setReadyStateLocked(ctx context.Context, state, event string, onWindow bool) {
	target := "document"
	if onWindow {
		target = "window"
	}
	src := "document.readyState = '" + state + "'; " +
		target + ".dispatchEvent(new Event('" + event + "'));" +
		"document.dispatchEvent(new Event('readystatechange'));"
	for _, name := range p.worldNamesLocked() {
		if _, err := p.runLocked(ctx, p.worlds[name], src); err != nil {
			p.logLocked(name, "error", err.Error())
		}
	}
}

// EvaluateInPage runs source in world and returns the exported completion
// value. Zero-delay timers scheduled by source run before it returns.
func (p *Page) EvaluateInPage(ctx context.Context, source string, world script.ContentWorld) (interface{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, platform.ErrClosed
	}
	if !p.loaded {
		p.mu.Unlock()
		return nil, platform.ErrNotLoaded
	}

	var result interface{}
	w, err := p.worldLocked(platform.WorldFor(p.cfg.Kind, world))
	if err == nil {
		var val goja.Value
		val, err = p.runLocked(ctx, w, source)
		result = exportValue(val)
	}
	p.runDueTimersLocked(ctx)
	p.mu.Unlock()

	p.deliver(ctx)
	return result, err
}

// Advance moves the page clock forward by d and fires due timers.
func (p *Page) Advance(ctx context.Context, d time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.advanceLocked(ctx, d)
	p.mu.Unlock()

	p.deliver(ctx)
}

// Console returns captured console output.
func (p *Page) Console() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LogEntry(nil), p.console...)
}

// URL returns the current page url.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location.String()
}

// Worlds lists the worlds created for the current document.
func (p *Page) Worlds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worldNamesLocked()
}

// Close releases the page. Further calls fail with platform.ErrClosed.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.worlds = nil
	p.timers = nil
	p.outbox = nil
	return nil
}

func (p *Page) worldLocked(w script.ContentWorld) (*world, error) {
	name := w.Name
	if name == "" {
		name = script.PageWorld.Name
	}
	if existing, ok := p.worlds[name]; ok {
		return existing, nil
	}
	created, err := p.newWorldLocked(name)
	if err != nil {
		return nil, err
	}
	p.worlds[name] = created
	return created, nil
}

func (p *Page) worldNamesLocked() []string {
	names := make([]string, 0, len(p.worlds))
	for name := range p.worlds {
		if name != script.PageWorld.Name {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := p.worlds[script.PageWorld.Name]; ok {
		names = append([]string{script.PageWorld.Name}, names...)
	}
	return names
}

func (p *Page) runLocked(ctx context.Context, w *world, source string) (goja.Value, error) {
	return p.execLocked(ctx, w, func() (goja.Value, error) {
		return w.vm.RunString(source)
	})
}

// execLocked runs f with the page timeout and ctx cancellation wired to
// the world's interrupt.
func (p *Page) execLocked(ctx context.Context, w *world, f func() (goja.Value, error)) (goja.Value, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			w.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	val, err := f()
	close(stop)
	<-done
	w.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	switch {
	case errors.As(err, &interrupted):
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
	case errors.As(err, &exception):
		return nil, fmt.Errorf("%w: %s", platform.ErrEvaluationFailed, exception.Error())
	case err != nil:
		return nil, fmt.Errorf("%w: %v", platform.ErrEvaluationFailed, err)
	}
	return val, nil
}

// postLocked queues a page message. Called from page script, so the page
// lock is already held.
func (p *Page) postLocked(w *world, name string, message goja.Value) {
	body := "null"
	if v, err := w.stringify(goja.Undefined(), message); err == nil && !goja.IsUndefined(v) {
		body = v.String()
	}

	if p.cfg.Kind == platform.KindLegacy {
		if _, ok := p.handlerNames[script.PageWorld.Name][name]; !ok {
			p.logger.Debug("Dropping message for unknown handler", zap.String("handler", name))
			return
		}
	}

	p.outbox = append(p.outbox, platform.Message{
		Name:  name,
		Body:  []byte(body),
		World: script.World(w.name),
		Frame: platform.FrameInfo{URL: p.location.String(), IsMainFrame: true},
	})
}

// deliver hands queued messages to the host handler. Only one goroutine
// delivers at a time; messages posted meanwhile are picked up by its loop.
func (p *Page) deliver(ctx context.Context) {
	p.mu.Lock()
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if len(p.outbox) == 0 {
			p.delivering = false
			p.mu.Unlock()
			return
		}
		msgs := p.outbox
		p.outbox = nil
		h := p.onMessage
		p.mu.Unlock()

		for _, msg := range msgs {
			if h != nil {
				h(ctx, msg)
			}
		}
	}
}

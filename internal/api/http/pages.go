package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/ajax"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/page"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webmessage"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/monitoring"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/resilience"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/tracing"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/sandbox"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/webshim"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// Page kinds accepted by OpenPage.
const (
	KindSandbox = "sandbox"
	KindLegacy  = "legacy"
	KindShim    = "shim"
)

// EchoHandler is registered on every page and resolves with its arguments.
const EchoHandler = "echo"

// OpenPageRequest opens a page.
type OpenPageRequest struct {
	Kind     string          `json:"kind"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	ParentID string          `json:"parent_id"`
	Settings json.RawMessage `json:"settings"`
}

type evaluateRequest struct {
	Source string `json:"source" binding:"required"`
	World  string `json:"world"`
}

type navigateRequest struct {
	URL string `json:"url" binding:"required"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type advanceRequest struct {
	Milliseconds int64 `json:"ms" binding:"required"`
}

type webMessageRequest struct {
	Data         string   `json:"data"`
	TargetOrigin string   `json:"target_origin"`
	Transfer     []string `json:"transfer"`
}

type listenerRequest struct {
	JSObjectName       string   `json:"js_object_name" binding:"required"`
	AllowedOriginRules []string `json:"allowed_origin_rules"`
	Echo               bool     `json:"echo"`
}

// OpenPage creates a page and optionally loads a url into it.
func (h *Handlers) OpenPage(c *gin.Context) {
	var req OpenPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	settings := h.defaults
	if len(req.Settings) > 0 && string(req.Settings) != "null" {
		parsed, err := webview.ParseSettings(".json", req.Settings)
		if err != nil {
			badRequest(c, err)
			return
		}
		parsed.AjaxRules = append(append([]ajax.RuleSpec(nil), h.defaults.AjaxRules...), parsed.AjaxRules...)
		settings = parsed
	}

	var parentID *id.PageID
	if req.ParentID != "" {
		pid := id.PageID(req.ParentID)
		parentID = &pid
	}

	ctx := c.Request.Context()
	var opened *page.Page
	err := h.trace(ctx, "page.open", func(ctx context.Context, span *tracing.Span) error {
		pageID := id.NewPageID()
		span.SetAttr("page_id", pageID.String())

		adapter, err := h.newAdapter(pageID, req.Kind)
		if err != nil {
			return err
		}

		events := NewEventLog(200)
		p, err := h.pages.Open(ctx, page.OpenRequest{
			Title:    req.Title,
			Adapter:  adapter,
			Settings: settings,
			ParentID: parentID,
			Options: webview.Options{
				ID:             pageID,
				Name:           h.cfg.Bridge.Name,
				CallTimeout:    h.cfg.Bridge.CallTimeout,
				CallsPerSecond: h.cfg.Bridge.CallsPerSecond,
				CallBurst:      h.cfg.Bridge.CallBurst,
				Matcher:        h.matcher,
				Events:         events,
				Logger:         h.logger,
				Recorder:       h.recorder(),
			},
		})
		if err != nil {
			if closer, ok := adapter.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
			return err
		}
		h.setEventLog(p.ID, events)
		registerHostHandlers(p.Controller())
		opened = p

		if req.URL == "" {
			return nil
		}
		return h.load(ctx, p, req.URL)
	})
	if err != nil {
		if opened != nil {
			h.closePage(ctx, opened.ID)
		}
		writeError(c, err)
		return
	}

	p, _ := h.pages.Get(opened.ID)
	c.JSON(http.StatusCreated, h.describe(p))
}

func (h *Handlers) newAdapter(pageID id.PageID, kind string) (platform.Adapter, error) {
	switch strings.ToLower(kind) {
	case "", KindSandbox, KindLegacy:
		cfg := sandbox.DefaultConfig()
		if strings.EqualFold(kind, KindLegacy) {
			cfg.Kind = platform.KindLegacy
		}
		cfg.Timeout = h.cfg.Sandbox.EvalTimeout
		cfg.EnableNetwork = h.cfg.Sandbox.Network
		sp, err := sandbox.New(cfg, h.logger.With(zap.String("page_id", pageID.String())))
		if err != nil {
			return nil, err
		}
		return sp, nil
	case KindShim:
		breaker := resilience.Settings{
			MaxRequests: h.cfg.Breaker.MaxRequests,
			Interval:    h.cfg.Breaker.Interval,
			Timeout:     h.cfg.Breaker.Timeout,
			MaxFailures: h.cfg.Breaker.MaxFailures,
		}
		if h.metrics != nil {
			metrics := h.metrics
			breaker.OnStateChange = func(name string, _, to resilience.State) {
				metrics.SetBreakerState(name, int(to))
			}
		}
		var recorder webshim.Recorder
		if h.metrics != nil {
			recorder = h.metrics
		}
		return webshim.NewLink(webshim.Config{
			LinkPath:    ShimLinkPath(pageID),
			EvalTimeout: h.cfg.Shim.EvalTimeout,
			Breaker:     breaker,
		}, h.logger.With(zap.String("page_id", pageID.String())), recorder), nil
	default:
		return nil, fmt.Errorf("%w: unknown page kind %q", errBadInput, kind)
	}
}

// load shows rawURL in p. Sandbox pages navigate in process; shim pages
// record the url and are fetched when their frame is requested.
func (h *Handlers) load(ctx context.Context, p *page.Page, rawURL string) error {
	switch adapter := p.Adapter().(type) {
	case *sandbox.Page:
		if err := p.Controller().Reload(ctx); err != nil {
			return err
		}
		if err := adapter.Navigate(ctx, rawURL); err != nil {
			return err
		}
	case *webshim.Link:
		doc, err := h.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return err
		}
		rawURL = doc.URL
		h.pages.SetTitle(p.ID, doc.Title)
	}
	h.pages.SetURL(p.ID, rawURL)
	return nil
}

// registerHostHandlers adds the handlers every page gets.
func registerHostHandlers(ctrl *webview.Controller) {
	ctrl.Dispatcher().Handle(EchoHandler, func(_ context.Context, call *bridge.Call) (interface{}, error) {
		var args []interface{}
		if err := call.DecodeArgs(&args); err != nil {
			return nil, err
		}
		return args, nil
	})
}

// ListPages lists open pages
func (h *Handlers) ListPages(c *gin.Context) {
	var filter *page.State
	if s := c.Query("state"); s != "" {
		state := page.State(s)
		filter = &state
	}
	pages := h.pages.List(filter)
	out := make([]gin.H, 0, len(pages))
	for _, p := range pages {
		out = append(out, h.describe(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"pages": out,
		"stats": h.pages.Stats(),
	})
}

// GetPage describes one page
func (h *Handlers) GetPage(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.describe(p))
}

// FocusPage brings a page to foreground
func (h *Handlers) FocusPage(c *gin.Context) {
	pageID := id.PageID(c.Param("id"))
	if !h.pages.Focus(pageID) {
		writeError(c, page.ErrPageNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClosePage closes a page and its windows
func (h *Handlers) ClosePage(c *gin.Context) {
	pageID := id.PageID(c.Param("id"))
	if !h.closePage(c.Request.Context(), pageID) {
		writeError(c, page.ErrPageNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) closePage(ctx context.Context, pageID id.PageID) bool {
	if !h.pages.Close(ctx, pageID) {
		return false
	}
	h.mu.Lock()
	for pid := range h.events {
		if _, alive := h.pages.Get(pid); !alive {
			delete(h.events, pid)
		}
	}
	h.mu.Unlock()
	return true
}

// Navigate loads a url into a page
func (h *Handlers) Navigate(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.trace(c.Request.Context(), "page.navigate", func(ctx context.Context, span *tracing.Span) error {
		span.SetAttr("page_id", p.ID.String())
		return h.load(ctx, p, req.URL)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	p, _ = h.pages.Get(p.ID)
	c.JSON(http.StatusOK, h.describe(p))
}

// Evaluate runs source in a page world
func (h *Handlers) Evaluate(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var result interface{}
	err := h.trace(c.Request.Context(), "page.evaluate", func(ctx context.Context, span *tracing.Span) error {
		span.SetAttr("page_id", p.ID.String())
		adapter := p.Adapter()
		var timer *monitoring.Timer
		if adapter.Kind() != platform.KindWebShim {
			timer = monitoring.NewTimer(h.metrics, adapter.Kind().String())
		}
		var err error
		result, err = adapter.EvaluateInPage(ctx, req.Source, script.World(req.World))
		if timer != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			timer.Stop(status)
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Reload rotates the bridge secret and reloads the current document
func (h *Handlers) Reload(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var err error
	if p.URL != "" {
		err = h.load(ctx, p, p.URL)
	} else {
		err = p.Controller().Reload(ctx)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AddUserScript registers a user script on a page
func (h *Handlers) AddUserScript(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req webview.UserScript
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.GroupName == "" {
		badRequest(c, fmt.Errorf("%w: groupName is required", errBadInput))
		return
	}
	s, err := req.Script()
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := p.Controller().AddUserScript(c.Request.Context(), s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// RemoveUserScripts removes a user script group from a page
func (h *Handlers) RemoveUserScripts(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := p.Controller().RemoveUserScriptsByGroup(c.Request.Context(), c.Param("group")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SetAjaxInterception toggles request interception at runtime
func (h *Handlers) SetAjaxInterception(c *gin.Context) {
	h.toggle(c, func(ctx context.Context, ctrl *webview.Controller, enabled bool) error {
		return ctrl.SetUseShouldInterceptAjaxRequest(ctx, enabled)
	})
}

// SetZoom toggles zoom support at runtime
func (h *Handlers) SetZoom(c *gin.Context) {
	h.toggle(c, func(ctx context.Context, ctrl *webview.Controller, enabled bool) error {
		return ctrl.SetSupportZoom(ctx, enabled)
	})
}

func (h *Handlers) toggle(c *gin.Context, apply func(ctx context.Context, ctrl *webview.Controller, enabled bool) error) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := apply(c.Request.Context(), p.Controller(), *req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// CreateChannel opens a web message channel; messages the page sends to
// the host port are logged as page events
func (h *Handlers) CreateChannel(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ch, err := p.Controller().Messages().CreateChannel(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	log := h.eventLog(p.ID)
	channelID := ch.ID()
	err = ch.Port1().SetWebMessageCallback(ctx, func(_ context.Context, msg *webmessage.Message) {
		if log != nil {
			log.add("port_message", gin.H{"channel": channelID, "data": msg.String()})
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": channelID})
}

// PostChannelMessage posts through the host port of a channel
func (h *Handlers) PostChannelMessage(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	ch, found := p.Controller().Messages().Channel(c.Param("channel"))
	if !found {
		writeError(c, fmt.Errorf("%w: %s", webmessage.ErrUnknownChannel, c.Param("channel")))
		return
	}
	var req webMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := ch.Port1().PostMessage(c.Request.Context(), webmessage.StringMessage(req.Data)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostWebMessage dispatches a message event on the page window,
// transferring the page ports of the listed channels
func (h *Handlers) PostWebMessage(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req webMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	messages := p.Controller().Messages()
	transfer := make([]*webmessage.Port, 0, len(req.Transfer))
	for _, channelID := range req.Transfer {
		ch, found := messages.Channel(channelID)
		if !found {
			writeError(c, fmt.Errorf("%w: %s", webmessage.ErrUnknownChannel, channelID))
			return
		}
		transfer = append(transfer, ch.Port2())
	}

	target := req.TargetOrigin
	if target == "" {
		target = "*"
	}
	if err := messages.PostWebMessage(c.Request.Context(), webmessage.StringMessage(req.Data), target, transfer...); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AddListener injects a web message listener object into the page
func (h *Handlers) AddListener(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var req listenerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	log := h.eventLog(p.ID)
	name := req.JSObjectName
	echo := req.Echo
	l, err := webmessage.NewListener(name, req.AllowedOriginRules,
		func(ctx context.Context, msg *webmessage.Message, sourceOrigin string, isMainFrame bool, reply *webmessage.ReplyProxy) {
			if log != nil {
				log.add("listener_message", gin.H{
					"listener":      name,
					"data":          msg.String(),
					"source_origin": sourceOrigin,
					"main_frame":    isMainFrame,
				})
			}
			if echo && reply != nil {
				_ = reply.PostMessage(ctx, msg)
			}
		})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := p.Controller().AddWebMessageListener(c.Request.Context(), l); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"js_object_name": name})
}

// Events returns the recent events of a page
func (h *Handlers) Events(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	events := []Event{}
	if log := h.eventLog(p.ID); log != nil {
		events = log.Events()
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Console returns the console output captured by a sandbox page
func (h *Handlers) Console(c *gin.Context) {
	sp, ok := h.lookupSandbox(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"console": sp.Console()})
}

// Advance moves a sandbox page clock forward and fires due timers
func (h *Handlers) Advance(c *gin.Context) {
	sp, ok := h.lookupSandbox(c)
	if !ok {
		return
	}
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sp.Advance(c.Request.Context(), time.Duration(req.Milliseconds)*time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) lookup(c *gin.Context) (*page.Page, bool) {
	p, ok := h.pages.Get(id.PageID(c.Param("id")))
	if !ok {
		writeError(c, page.ErrPageNotFound)
		return nil, false
	}
	return p, true
}

func (h *Handlers) lookupSandbox(c *gin.Context) (*sandbox.Page, bool) {
	p, ok := h.lookup(c)
	if !ok {
		return nil, false
	}
	sp, isSandbox := p.Adapter().(*sandbox.Page)
	if !isSandbox {
		badRequest(c, fmt.Errorf("%w: page %s is not a sandbox page", errBadInput, p.ID))
		return nil, false
	}
	return sp, true
}

func (h *Handlers) describe(p *page.Page) gin.H {
	out := gin.H{
		"id":         p.ID,
		"kind":       p.Kind,
		"state":      p.State,
		"created_at": p.CreatedAt,
		"bridge":     p.Controller().Name(),
		"scripts":    len(p.Controller().Registry().All()),
		"listeners":  p.Controller().Messages().Listeners(),
		"channels":   p.Controller().Messages().Len(),
	}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.URL != "" {
		out["url"] = p.URL
	}
	if p.ParentID != nil {
		out["parent_id"] = *p.ParentID
	}
	if p.WindowID != nil {
		out["window_id"] = *p.WindowID
	}
	if _, ok := p.Adapter().(*webshim.Link); ok {
		out["frame_url"] = ShimFramePath(p.ID)
	}
	return out
}

func (h *Handlers) recorder() webview.Recorder {
	if h.metrics == nil {
		return nil
	}
	return h.metrics
}

func (h *Handlers) trace(ctx context.Context, name string, fn func(ctx context.Context, span *tracing.Span) error) error {
	if h.tracer == nil {
		return fn(ctx, &tracing.Span{})
	}
	return h.tracer.Trace(ctx, name, fn)
}

package http

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/page"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webmessage"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/config"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/monitoring"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/resilience"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/tracing"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/webshim"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Config   *config.Config
	Pages    *page.Manager
	Fetcher  *webshim.Fetcher
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Logger   *zap.Logger
	Defaults webview.Settings
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfg      *config.Config
	pages    *page.Manager
	fetcher  *webshim.Fetcher
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logger   *zap.Logger
	defaults webview.Settings
	matcher  origin.Matcher

	mu     sync.Mutex
	events map[id.PageID]*EventLog
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	matcher := origin.Matcher{Mode: origin.MatchSuffix}
	if cfg.Bridge.LegacyWildcard {
		matcher.Mode = origin.MatchSubstring
	}
	return &Handlers{
		cfg:      cfg,
		pages:    deps.Pages,
		fetcher:  deps.Fetcher,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   logger,
		defaults: deps.Defaults,
		matcher:  matcher,
		events:   make(map[id.PageID]*EventLog),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webbridge host",
		"bridge":  h.cfg.Bridge.Name,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"pages":  h.pages.Stats(),
	})
}

// MetricsJSON returns the metrics snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *Handlers) eventLog(pageID id.PageID) *EventLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[pageID]
}

func (h *Handlers) setEventLog(pageID id.PageID, log *EventLog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if log == nil {
		delete(h.events, pageID)
		return
	}
	h.events[pageID] = log
}

var errBadInput = errors.New("invalid request")

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, page.ErrPageNotFound), errors.Is(err, webmessage.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, page.ErrTooManyPages):
		return http.StatusTooManyRequests
	case errors.Is(err, platform.ErrNotLoaded), errors.Is(err, platform.ErrClosed),
		errors.Is(err, webview.ErrDisposed):
		return http.StatusConflict
	case errors.Is(err, platform.ErrEvaluationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, webshim.ErrNotHTML), errors.Is(err, webshim.ErrPageTooLarge):
		return http.StatusBadGateway
	case errors.Is(err, errBadInput), errors.Is(err, webshim.ErrBadURL), errors.Is(err, bridge.ErrInvalidBridgeName),
		errors.Is(err, webview.ErrUnsupportedSettingsFormat),
		errors.Is(err, webmessage.ErrInvalidListener), errors.Is(err, webmessage.ErrInvalidMessage),
		errors.Is(err, webmessage.ErrDuplicateObject), errors.Is(err, webmessage.ErrSourcePortTransfer),
		errors.Is(err, webmessage.ErrPortClosedOrTransferred), errors.Is(err, webmessage.ErrPortTransferred):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Register adds the page routes to r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	// Page lifecycle
	r.POST("/pages", h.OpenPage)
	r.GET("/pages", h.ListPages)
	r.GET("/pages/:id", h.GetPage)
	r.POST("/pages/:id/focus", h.FocusPage)
	r.POST("/pages/:id/navigate", h.Navigate)
	r.POST("/pages/:id/reload", h.Reload)
	r.DELETE("/pages/:id", h.ClosePage)

	// Scripts and runtime settings
	r.POST("/pages/:id/evaluate", h.Evaluate)
	r.POST("/pages/:id/scripts", h.AddUserScript)
	r.DELETE("/pages/:id/scripts/:group", h.RemoveUserScripts)
	r.PUT("/pages/:id/ajax-interception", h.SetAjaxInterception)
	r.PUT("/pages/:id/zoom", h.SetZoom)

	// Web messaging
	r.POST("/pages/:id/channels", h.CreateChannel)
	r.POST("/pages/:id/channels/:channel/messages", h.PostChannelMessage)
	r.POST("/pages/:id/web-messages", h.PostWebMessage)
	r.POST("/pages/:id/listeners", h.AddListener)

	// Observation
	r.GET("/pages/:id/events", h.Events)
	r.GET("/pages/:id/console", h.Console)
	r.POST("/pages/:id/advance", h.Advance)

	// Shim pages; the link route belongs to the ws handler
	r.GET("/shim/:id", h.ShimFrame)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpapi "github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/api/http"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/api/middleware"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/api/ws"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/page"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/config"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/logging"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/monitoring"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/tracing"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/webshim"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	pages   *page.Manager
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing webbridge host",
		zap.String("port", cfg.Server.Port),
		zap.String("bridge", cfg.Bridge.Name),
		zap.Bool("legacy_wildcard", cfg.Bridge.LegacyWildcard),
	)

	defaults, err := loadDefaults(cfg)
	if err != nil {
		return nil, err
	}

	// Metrics live in a private registry so several servers can coexist
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	tracer := tracing.New("webbridge", logger.Component("tracing"), 1024)
	pages := page.NewManager(cfg.Sandbox.MaxPages, logger.Component("pages"), metrics)
	fetcher := webshim.NewFetcher(webshim.FetcherConfig{
		Timeout:     cfg.Shim.FetchTimeout,
		MaxPageSize: cfg.Shim.MaxPageSize,
	}, nil)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := httpapi.NewHandlers(httpapi.Deps{
		Config:   cfg,
		Pages:    pages,
		Fetcher:  fetcher,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger.Component("api"),
		Defaults: defaults,
	})
	wsHandler := ws.NewHandler(pages, logger.Component("link"))

	handlers.Register(router)
	router.GET("/shim/:id/link", wsHandler.HandleLink)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", handlers.MetricsJSON)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		pages:   pages,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// loadDefaults reads the default page settings and merges the shared
// ajax rules into them.
func loadDefaults(cfg *config.Config) (webview.Settings, error) {
	defaults := webview.DefaultSettings()
	if cfg.Settings.File != "" {
		s, err := webview.LoadSettings(cfg.Settings.File)
		if err != nil {
			return defaults, fmt.Errorf("failed to load page settings: %w", err)
		}
		defaults = s
	}
	if cfg.Ajax.RulesFile != "" {
		s, err := webview.LoadSettings(cfg.Ajax.RulesFile)
		if err != nil {
			return defaults, fmt.Errorf("failed to load ajax rules: %w", err)
		}
		defaults.AjaxRules = append(defaults.AjaxRules, s.AjaxRules...)
	}
	return defaults, nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Close disposes every page and flushes telemetry.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.pages.CloseAll(ctx)
	s.logger.Info("Closed pages")

	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}

package webview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/ajax"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/observer"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webmessage"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

var (
	ErrDisposed       = errors.New("webview controller is disposed")
	ErrUnknownMessage = errors.New("unknown page message")
)

// Recorder receives every metric the page components report.
type Recorder interface {
	bridge.Recorder
	ajax.Recorder
	webmessage.Recorder
}

// Options configure a Controller beyond its Settings.
type Options struct {
	// ID identifies the page in logs; one is generated when empty.
	ID id.PageID
	// Name is the page-side bridge name.
	Name string
	// WindowID is exposed to page script for windows the host opened.
	WindowID *int64

	CallTimeout    time.Duration
	CallsPerSecond float64
	CallBurst      int

	// Matcher checks web message listener origins.
	Matcher origin.Matcher
	Events  observer.Events

	Logger   *zap.Logger
	Recorder Recorder
}

// Controller ties the bridge components of one page together and keeps
// the adapter's injected scripts in sync with them.
type Controller struct {
	id       id.PageID
	name     string
	adapter  platform.Adapter
	settings Settings
	opts     Options
	logger   *zap.Logger

	registry    *script.Registry
	dispatcher  *bridge.Dispatcher
	messages    *webmessage.Manager
	interceptor *ajax.Interceptor
	observer    *observer.Observer
	zoom        *observer.Zoom

	bridgeRules []origin.Rule
	pluginRules []origin.Rule

	// disposed is read without mu; page messages arrive while mu is held.
	disposed atomic.Bool

	mu          sync.Mutex
	userScripts []script.InjectableScript
	listeners   []script.InjectableScript
}

// New builds the components of one page on top of adapter and routes the
// adapter's page messages to them.
func New(adapter platform.Adapter, settings Settings, opts Options) (*Controller, error) {
	if opts.Name == "" {
		opts.Name = bridge.DefaultName
	}
	if err := bridge.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.ID == "" {
		opts.ID = id.NewPageID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("page_id", opts.ID.String()))

	bridgeRules, err := settings.BridgeOriginRules()
	if err != nil {
		return nil, err
	}
	handlerRules, err := settings.HandlerOriginRules()
	if err != nil {
		return nil, err
	}
	pluginRules, err := settings.PluginOriginRules()
	if err != nil {
		return nil, err
	}
	userScripts := make([]script.InjectableScript, 0, len(settings.UserScripts))
	for _, u := range settings.UserScripts {
		s, err := u.Script()
		if err != nil {
			return nil, err
		}
		userScripts = append(userScripts, s)
	}

	c := &Controller{
		id:          opts.ID,
		name:        opts.Name,
		adapter:     adapter,
		settings:    settings,
		opts:        opts,
		logger:      logger,
		bridgeRules: bridgeRules,
		pluginRules: pluginRules,
		userScripts: userScripts,
	}

	c.registry = script.NewRegistry(adapter, logger)
	c.dispatcher = bridge.NewDispatcher(bridge.Config{
		Name:           opts.Name,
		CallTimeout:    opts.CallTimeout,
		CallsPerSecond: opts.CallsPerSecond,
		Burst:          opts.CallBurst,
		Handlers: bridge.Access{
			AllowedOriginRules: handlerRules,
			MainFrameOnly:      settings.JavaScriptHandlersForMainFrameOnly,
		},
		Plugins: bridge.Access{
			AllowedOriginRules: pluginRules,
			MainFrameOnly:      settings.PluginScriptsForMainFrameOnly,
		},
		Matcher: opts.Matcher,
	}, adapter, logger, opts.Recorder)
	c.messages = webmessage.NewManager(webmessage.Config{
		Name:       opts.Name,
		PostToHost: adapter.PostToHostSource(),
		Matcher:    opts.Matcher,
	}, adapter, logger, opts.Recorder)

	c.interceptor = ajax.NewInterceptor(logger, opts.Recorder)
	if err := c.interceptor.LoadRules(settings.AjaxRules); err != nil {
		return nil, err
	}
	c.interceptor.Register(c.dispatcher)

	c.observer = observer.New(opts.Events, logger)
	c.observer.Register(c.dispatcher)
	c.zoom = observer.NewZoom(c.observerOptions(), adapter)

	adapter.OnHostMessage(func(ctx context.Context, msg platform.Message) {
		if err := c.HandleMessage(ctx, msg); err != nil {
			c.logger.Debug("Page message not handled",
				zap.String("handler", msg.Name),
				zap.Error(err),
			)
		}
	})
	return c, nil
}

func (c *Controller) observerOptions() observer.Options {
	return observer.Options{Name: c.name, PostToHost: c.adapter.PostToHostSource()}
}

func (c *Controller) ajaxOptions() ajax.Options {
	return ajax.Options{
		Name:                      c.name,
		UseOnAjaxReadyStateChange: c.settings.UseOnAjaxReadyStateChange,
		UseOnAjaxProgress:         c.settings.UseOnAjaxProgress,
	}
}

// PrepareScripts rebuilds the registry with a fresh bridge secret and
// installs it into the adapter. Plugin scripts go first, in a fixed order,
// followed by the web message listeners and the user scripts.
func (c *Controller) PrepareScripts(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.registry.RemoveAll(false)
	if err := c.adapter.AddMessageHandler(webmessage.PortMessageHandler, script.PageWorld); err != nil {
		return fmt.Errorf("wire %s: %w", webmessage.PortMessageHandler, err)
	}
	secret := bridge.NewSecret()
	c.dispatcher.SetSecret(secret)

	plugins, err := c.pluginScripts(secret)
	if err != nil {
		return err
	}
	for _, s := range plugins {
		if err := c.registry.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.GroupName, err)
		}
	}
	for _, s := range c.listeners {
		if err := c.registry.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.GroupName, err)
		}
	}
	for _, s := range c.userScripts {
		if err := c.registry.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.GroupName, err)
		}
	}

	c.logger.Debug("Page scripts prepared", zap.Int("count", len(c.registry.All())))
	return c.installLocked(ctx)
}

// scoped applies the plugin script allow list to a built-in script.
func (c *Controller) scoped(s script.InjectableScript) script.InjectableScript {
	if c.pluginRules != nil {
		s.AllowedOriginRules = c.pluginRules
	}
	if c.settings.PluginScriptsForMainFrameOnly {
		s.ForMainFrameOnly = true
	}
	return s
}

func (c *Controller) pluginScripts(secret string) ([]script.InjectableScript, error) {
	var plugins []script.InjectableScript
	if c.opts.WindowID != nil {
		plugins = append(plugins, c.scoped(bridge.WindowIDScript(c.name, *c.opts.WindowID)))
	}
	if c.settings.JavaScriptBridgeEnabled {
		s, err := bridge.Script(bridge.Options{
			Name:               c.name,
			Secret:             secret,
			CallTimeout:        c.opts.CallTimeout,
			PostToHost:         c.adapter.PostToHostSource(),
			AllowedOriginRules: c.bridgeRules,
			ForMainFrameOnly:   c.settings.JavaScriptBridgeForMainFrameOnly,
		})
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, s)
	}

	observers, err := observer.Scripts(c.observerOptions())
	if err != nil {
		return nil, err
	}
	for _, s := range observers {
		plugins = append(plugins, c.scoped(s))
	}

	if c.settings.UseShouldInterceptAjaxRequest {
		plugins = append(plugins, c.scoped(ajax.OnlyAsyncScript(c.ajaxOptions(), c.settings.InterceptOnlyAsyncAjaxRequests)))
		s, err := ajax.Script(c.ajaxOptions())
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, c.scoped(s))
	}

	if !c.settings.SupportZoom {
		s, err := observer.NotSupportZoomScript(c.observerOptions())
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, c.scoped(s))
	}
	return plugins, nil
}

func (c *Controller) installLocked(ctx context.Context) error {
	if err := c.adapter.InstallScripts(ctx, c.registry.All()); err != nil {
		return fmt.Errorf("install scripts: %w", err)
	}
	return nil
}

// EnablePluginScriptAtRuntime toggles a plugin on the loaded page. When the
// page already carries the plugin its flag is set in every content world;
// otherwise enabling injects s into the live page and registers it for
// later loads.
func (c *Controller) EnablePluginScriptAtRuntime(ctx context.Context, flag string, enable bool, s script.InjectableScript) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}

	present, err := c.adapter.EvaluateInPage(ctx,
		"(function() { try { return typeof "+flag+" === 'boolean'; } catch (_) { return false; } })()",
		script.PageWorld)
	if err != nil {
		return fmt.Errorf("probe %s: %w", flag, err)
	}

	worlds := c.registry.ContentWorlds()
	if loaded, _ := present.(bool); loaded {
		for _, w := range worlds {
			if _, err := c.adapter.EvaluateInPage(ctx, flag+" = "+utils.JSBool(enable)+";", w); err != nil {
				return fmt.Errorf("set %s: %w", flag, err)
			}
		}
		c.logger.Debug("Plugin flag toggled", zap.String("flag", flag), zap.Bool("enable", enable))
		return nil
	}
	if !enable {
		return nil
	}

	if !s.RequiredInAllContentWorlds {
		worlds = []script.ContentWorld{script.PageWorld}
	}
	for _, w := range worlds {
		src := platform.SourceFor(c.adapter.Kind(), s.InWorld(w))
		if src == "" {
			continue
		}
		if _, err := c.adapter.EvaluateInPage(ctx, src, w); err != nil {
			return fmt.Errorf("inject %s: %w", s.GroupName, err)
		}
	}
	if err := c.registry.Register(s); err != nil {
		return err
	}
	c.logger.Debug("Plugin script injected at runtime", zap.String("group", s.GroupName))
	return c.installLocked(ctx)
}

// SetUseShouldInterceptAjaxRequest turns request interception on or off
// for the loaded page and for later loads.
func (c *Controller) SetUseShouldInterceptAjaxRequest(ctx context.Context, enable bool) error {
	s, err := ajax.Script(c.ajaxOptions())
	if err != nil {
		return err
	}
	s = c.scoped(s)
	flag := bridge.Var(c.name, ajax.FlagShouldInterceptAjaxRequest)
	if err := c.EnablePluginScriptAtRuntime(ctx, flag, enable, s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.settings.UseShouldInterceptAjaxRequest = enable
	c.registry.Unregister(ajax.GroupName)
	if enable {
		for _, p := range []script.InjectableScript{
			c.scoped(ajax.OnlyAsyncScript(c.ajaxOptions(), c.settings.InterceptOnlyAsyncAjaxRequests)),
			s,
		} {
			if err := c.registry.Register(p); err != nil {
				return err
			}
		}
	}
	return c.installLocked(ctx)
}

// SetSupportZoom applies the zoom setting to the loaded page and to later
// loads.
func (c *Controller) SetSupportZoom(ctx context.Context, support bool) error {
	if err := c.zoom.SetSupportZoom(ctx, support); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	c.settings.SupportZoom = support
	if support {
		c.registry.Unregister(observer.NotSupportZoomGroupName)
	} else {
		s, err := observer.NotSupportZoomScript(c.observerOptions())
		if err != nil {
			return err
		}
		if err := c.registry.Register(c.scoped(s)); err != nil {
			return err
		}
	}
	return c.installLocked(ctx)
}

// AddUserScript registers a user script for later loads.
func (c *Controller) AddUserScript(ctx context.Context, s script.InjectableScript) error {
	s.Plugin = false
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	if err := c.registry.Register(s); err != nil {
		return err
	}
	c.userScripts = append(c.userScripts, s)
	return c.installLocked(ctx)
}

// RemoveUserScriptsByGroup drops every user script of a group.
func (c *Controller) RemoveUserScriptsByGroup(ctx context.Context, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	kept := c.userScripts[:0]
	for _, s := range c.userScripts {
		if s.GroupName == group {
			c.registry.RemoveScript(s)
			continue
		}
		kept = append(kept, s)
	}
	c.userScripts = kept
	return c.installLocked(ctx)
}

// AddWebMessageListener exposes l on allowed origins from the next load.
func (c *Controller) AddWebMessageListener(ctx context.Context, l *webmessage.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return ErrDisposed
	}
	s, err := c.messages.AddListener(l)
	if err != nil {
		return err
	}
	if err := c.registry.Register(s); err != nil {
		return err
	}
	c.listeners = append(c.listeners, s)
	return c.installLocked(ctx)
}

// HandleMessage routes a page message to the component owning its
// handler name.
func (c *Controller) HandleMessage(ctx context.Context, msg platform.Message) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	switch msg.Name {
	case bridge.CallHandlerMessage:
		return c.dispatcher.Dispatch(ctx, msg.Body, msg.World)
	case webmessage.PortMessageHandler:
		return c.messages.HandlePortMessage(ctx, msg.Body)
	case webmessage.ListenerMessageHandler:
		return c.messages.HandleListenerMessage(ctx, msg.Body, msg.Frame.URL, msg.Frame.IsMainFrame)
	case observer.ConsoleMessageHandler:
		return c.observer.HandleConsoleMessage(ctx, msg.Body)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Name)
	}
}

// Reload prepares the page for a new document: channels and observer state
// are dropped and the scripts are reinstalled with a new bridge secret.
func (c *Controller) Reload(ctx context.Context) error {
	c.messages.Reset()
	c.observer.Reset()
	return c.PrepareScripts(ctx)
}

// Dispose closes every channel and forgets the scripts. The controller
// rejects further use.
func (c *Controller) Dispose(ctx context.Context) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.messages.Dispose(ctx)
	c.interceptor.ClearRules()
	c.registry.RemoveAll(false)
	c.adapter.OnHostMessage(nil)
	c.logger.Debug("Webview controller disposed")
}

// ID returns the page id.
func (c *Controller) ID() id.PageID { return c.id }

// Name returns the page-side bridge name.
func (c *Controller) Name() string { return c.name }

// Settings returns the current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Controller) Adapter() platform.Adapter { return c.adapter }
func (c *Controller) Registry() *script.Registry { return c.registry }
func (c *Controller) Dispatcher() *bridge.Dispatcher { return c.dispatcher }
func (c *Controller) Messages() *webmessage.Manager { return c.messages }
func (c *Controller) Interceptor() *ajax.Interceptor { return c.interceptor }
func (c *Controller) Observer() *observer.Observer { return c.observer }
func (c *Controller) Zoom() *observer.Zoom { return c.zoom }

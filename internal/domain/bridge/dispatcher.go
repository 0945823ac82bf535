package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

var (
	ErrInvalidSecret = errors.New("bridge secret mismatch")
	ErrCallTimeout   = errors.New("bridge call timed out")
	ErrRateLimited   = errors.New("bridge call rate limit exceeded")
	ErrHandlerPanic  = errors.New("bridge handler panicked")

	ErrOriginNotAllowed = errors.New("bridge handler not allowed for this origin")
	ErrSubFrameCall     = errors.New("bridge handler only allowed in the main frame")
)

// Call outcomes reported to the Recorder.
const (
	OutcomeOK             = "ok"
	OutcomeError          = "error"
	OutcomeTimeout        = "timeout"
	OutcomeRateLimited    = "rate_limited"
	OutcomeInvalidSecret  = "invalid_secret"
	OutcomeUnknownHandler = "unknown_handler"
	OutcomeAccessDenied   = "access_denied"
)

// Evaluator runs script in the page. The Dispatcher only reaches the page
// through it.
type Evaluator interface {
	EvaluateInPage(ctx context.Context, source string, world script.ContentWorld) (interface{}, error)
}

// Recorder receives per-call metrics.
type Recorder interface {
	RecordBridgeCall(handler, outcome string, d time.Duration)
}

// HandlerFunc answers a page call. The returned value is sent back to the
// page as JSON; a returned error rejects the page promise.
type HandlerFunc func(ctx context.Context, call *Call) (interface{}, error)

// Access restricts which frames may call a set of handlers.
type Access struct {
	// AllowedOriginRules nil allows every origin; an empty list allows none.
	AllowedOriginRules []origin.Rule
	MainFrameOnly      bool
}

func (a Access) check(m origin.Matcher, call *Call) error {
	if a.MainFrameOnly && !call.IsMainFrame {
		return ErrSubFrameCall
	}
	if a.AllowedOriginRules != nil && !m.IsURLAllowed(a.AllowedOriginRules, call.Origin) {
		return fmt.Errorf("%w: %q", ErrOriginNotAllowed, call.Origin)
	}
	return nil
}

// Config tunes a Dispatcher.
type Config struct {
	Name           string
	CallTimeout    time.Duration
	CallsPerSecond float64
	Burst          int

	// Handlers gates handlers added with Handle; Plugins gates those added
	// with HandlePlugin.
	Handlers Access
	Plugins  Access
	Matcher  origin.Matcher
}

// Dispatcher is the host side of the bridge for one page: it authenticates
// inbound calls against the page secret, routes them to named handlers and
// settles the page promise with the outcome.
type Dispatcher struct {
	name      string
	evaluator Evaluator
	logger    *zap.Logger
	recorder  Recorder
	timeout   time.Duration
	limiter   *rate.Limiter
	sizes     *utils.SizeValidator
	access    Access
	plugins   Access
	matcher   origin.Matcher

	mu       sync.RWMutex
	secret   string
	handlers map[string]HandlerFunc
	internal map[string]bool
	fallback HandlerFunc
}

// NewDispatcher creates a dispatcher. A zero CallsPerSecond disables rate
// limiting; a zero CallTimeout lets handlers run until ctx ends.
func NewDispatcher(cfg Config, evaluator Evaluator, logger *zap.Logger, recorder Recorder) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.CallsPerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}

	return &Dispatcher{
		name:      name,
		evaluator: evaluator,
		logger:    logger,
		recorder:  recorder,
		timeout:   cfg.CallTimeout,
		limiter:   limiter,
		sizes:     utils.DefaultMessageValidator(),
		access:    cfg.Handlers,
		plugins:   cfg.Plugins,
		matcher:   cfg.Matcher,
		handlers:  make(map[string]HandlerFunc),
		internal:  make(map[string]bool),
	}
}

// Name returns the page-side bridge name.
func (d *Dispatcher) Name() string {
	return d.name
}

// SetSecret installs the secret of the current page load.
func (d *Dispatcher) SetSecret(secret string) {
	d.mu.Lock()
	d.secret = secret
	d.mu.Unlock()
}

// Secret returns the secret of the current page load.
func (d *Dispatcher) Secret() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.secret
}

// Handle registers h under name, replacing any previous handler.
func (d *Dispatcher) Handle(name string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[name] = h
	delete(d.internal, name)
	d.mu.Unlock()
}

// HandlePlugin registers a handler backing a plugin script. Calls to it are
// gated by the plugin access rules instead of the handler ones.
func (d *Dispatcher) HandlePlugin(name string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[name] = h
	d.internal[name] = true
	d.mu.Unlock()
}

// Remove unregisters the handler of name.
func (d *Dispatcher) Remove(name string) {
	d.mu.Lock()
	delete(d.handlers, name)
	delete(d.internal, name)
	d.mu.Unlock()
}

// SetFallback sets the handler for names without a registered handler.
// Without one such calls resolve to null.
func (d *Dispatcher) SetFallback(h HandlerFunc) {
	d.mu.Lock()
	d.fallback = h
	d.mu.Unlock()
}

// Has reports whether a handler is registered for name.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Dispatch handles one callHandler message posted from world.
//
// Calls with a malformed body or a wrong secret are dropped and the error
// is returned; the page promise is left to the page-side timeout. Calls
// from a frame the handler's Access does not allow are rejected in the
// page. Every other call is settled in the page, and Dispatch only returns
// an error if that delivery fails.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, world script.ContentWorld) error {
	start := time.Now()

	if err := d.sizes.ValidateSize(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	call, err := DecodeCall(raw)
	if err != nil {
		return err
	}

	d.mu.RLock()
	secret := d.secret
	h, ok := d.handlers[call.HandlerName]
	access := d.access
	if d.internal[call.HandlerName] {
		access = d.plugins
	}
	fallback := d.fallback
	d.mu.RUnlock()

	if !SecretsEqual(secret, call.Secret) {
		d.record(call.HandlerName, OutcomeInvalidSecret, start)
		d.logger.Warn("Bridge access attempt with wrong secret token",
			zap.String("handler", call.HandlerName),
			zap.String("origin", call.Origin),
			zap.Bool("main_frame", call.IsMainFrame),
		)
		return fmt.Errorf("%w: handler %s", ErrInvalidSecret, call.HandlerName)
	}

	if err := access.check(d.matcher, call); err != nil {
		d.record(call.HandlerName, OutcomeAccessDenied, start)
		d.logger.Warn("Bridge handler call from a disallowed frame",
			zap.String("handler", call.HandlerName),
			zap.String("origin", call.Origin),
			zap.Bool("main_frame", call.IsMainFrame),
		)
		return d.reject(ctx, call, world, err)
	}

	if !d.limiter.Allow() {
		d.record(call.HandlerName, OutcomeRateLimited, start)
		return d.reject(ctx, call, world, ErrRateLimited)
	}

	if !ok {
		h = fallback
	}
	if h == nil {
		d.record(call.HandlerName, OutcomeUnknownHandler, start)
		d.logger.Debug("No handler for bridge call", zap.String("handler", call.HandlerName))
		return d.resolve(ctx, call, world, nil)
	}

	result, err := d.invoke(ctx, h, call)
	switch {
	case errors.Is(err, ErrCallTimeout):
		d.record(call.HandlerName, OutcomeTimeout, start)
		d.logger.Warn("Bridge handler timed out",
			zap.String("handler", call.HandlerName),
			zap.Duration("timeout", d.timeout),
		)
		return d.reject(ctx, call, world, err)
	case err != nil:
		d.record(call.HandlerName, OutcomeError, start)
		d.logger.Debug("Bridge handler failed", zap.String("handler", call.HandlerName), zap.Error(err))
		return d.reject(ctx, call, world, err)
	}

	d.record(call.HandlerName, OutcomeOK, start)
	return d.resolve(ctx, call, world, result)
}

func (d *Dispatcher) invoke(ctx context.Context, h HandlerFunc, call *Call) (interface{}, error) {
	if d.timeout <= 0 {
		return safeCall(ctx, h, call)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := safeCall(callCtx, h, call)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, call.HandlerName, d.timeout)
		}
		return nil, callCtx.Err()
	}
}

func safeCall(ctx context.Context, h HandlerFunc, call *Call) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, call)
}

func (d *Dispatcher) resolve(ctx context.Context, call *Call, world script.ContentWorld, result interface{}) error {
	src, err := ResolveScript(d.name, call.CallID, result)
	if err != nil {
		return d.reject(ctx, call, world, err)
	}
	if _, err := d.evaluator.EvaluateInPage(ctx, src, world); err != nil {
		return fmt.Errorf("failed to resolve %s call: %w", call.HandlerName, err)
	}
	return nil
}

func (d *Dispatcher) reject(ctx context.Context, call *Call, world script.ContentWorld, cause error) error {
	src, err := RejectScript(d.name, call.CallID, cause.Error())
	if err != nil {
		return err
	}
	if _, err := d.evaluator.EvaluateInPage(ctx, src, world); err != nil {
		return fmt.Errorf("failed to reject %s call: %w", call.HandlerName, err)
	}
	return nil
}

func (d *Dispatcher) record(handler, outcome string, start time.Time) {
	if d.recorder != nil {
		d.recorder.RecordBridgeCall(handler, outcome, time.Since(start))
	}
}

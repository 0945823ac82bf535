package ajax

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
)

var ErrInvalidRule = errors.New("invalid interception rule")

// Decision outcomes reported to the Recorder.
const (
	OutcomeAbort   = "abort"
	OutcomeRewrite = "rewrite"
	OutcomeProceed = "proceed"
)

// Recorder receives interception metrics.
type Recorder interface {
	RecordAjaxDecision(handler, outcome string)
}

// DecideFunc computes a decision for a request. A nil decision lets the
// request through unchanged.
type DecideFunc func(ctx context.Context, req *Request) (*Decision, error)

// EventFunc observes a ready state or progress event. Returning Abort()
// aborts the request; nil lets it continue.
type EventFunc func(ctx context.Context, ev *Event) (*Decision, error)

// Rule matches requests and decides their fate. Empty matchers match
// everything; the first matching rule wins.
type Rule struct {
	Name string
	// URLGlob matches the whole request url with doublestar syntax: "*"
	// stays within one path segment and "**" spans segments.
	URLGlob string
	// URLPattern is a regular expression searched in the request url.
	URLPattern string
	// Methods restricts the rule to these request methods.
	Methods []string
	// Headers must all be present with these exact values.
	Headers map[string]string
	// Decision is returned when Decide is nil.
	Decision *Decision
	Decide   DecideFunc

	patternRe *regexp.Regexp
}

func (r *Rule) compile() error {
	if r.URLGlob != "" && !doublestar.ValidatePattern(r.URLGlob) {
		return fmt.Errorf("%w: %s: bad url glob %q", ErrInvalidRule, r.Name, r.URLGlob)
	}
	if r.URLPattern != "" {
		re, err := regexp.Compile(r.URLPattern)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRule, r.Name, err)
		}
		r.patternRe = re
	}
	return nil
}

func (r *Rule) matches(req *Request) bool {
	if r.URLGlob != "" {
		if ok, err := doublestar.Match(r.URLGlob, req.URL); err != nil || !ok {
			return false
		}
	}
	if r.patternRe != nil && !r.patternRe.MatchString(req.URL) {
		return false
	}
	if len(r.Methods) > 0 {
		found := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, req.Method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for name, want := range r.Headers {
		got, ok := headerValue(req.Headers, name)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func headerValue(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Interceptor is the host side of the ajax engine for one page.
type Interceptor struct {
	logger   *zap.Logger
	recorder Recorder

	mu                 sync.RWMutex
	rules              []Rule
	onReadyStateChange EventFunc
	onProgress         EventFunc
}

// NewInterceptor creates an interceptor without rules.
func NewInterceptor(logger *zap.Logger, recorder Recorder) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{logger: logger, recorder: recorder}
}

// AddRule appends a rule after the existing ones.
func (i *Interceptor) AddRule(r Rule) error {
	if r.Decide == nil && r.Decision == nil {
		return fmt.Errorf("%w: %s has no decision", ErrInvalidRule, r.Name)
	}
	if err := r.compile(); err != nil {
		return err
	}
	i.mu.Lock()
	i.rules = append(i.rules, r)
	i.mu.Unlock()
	return nil
}

// ClearRules removes every rule.
func (i *Interceptor) ClearRules() {
	i.mu.Lock()
	i.rules = nil
	i.mu.Unlock()
}

// Len returns the number of rules.
func (i *Interceptor) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.rules)
}

// OnReadyStateChange sets the ready state observer.
func (i *Interceptor) OnReadyStateChange(fn EventFunc) {
	i.mu.Lock()
	i.onReadyStateChange = fn
	i.mu.Unlock()
}

// OnProgress sets the progress observer.
func (i *Interceptor) OnProgress(fn EventFunc) {
	i.mu.Lock()
	i.onProgress = fn
	i.mu.Unlock()
}

// Decide runs the rules against req and returns the first decision.
func (i *Interceptor) Decide(ctx context.Context, req *Request) (*Decision, error) {
	i.mu.RLock()
	rules := i.rules
	i.mu.RUnlock()

	for idx := range rules {
		r := &rules[idx]
		if !r.matches(req) {
			continue
		}
		d := r.Decision
		if r.Decide != nil {
			var err error
			d, err = r.Decide(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
		}
		i.logger.Debug("Ajax request matched rule",
			zap.String("rule", r.Name),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Bool("abort", d.IsAbort()),
		)
		return d, nil
	}
	return nil, nil
}

// Register wires the engine handlers into d.
func (i *Interceptor) Register(d *bridge.Dispatcher) {
	d.HandlePlugin(ShouldInterceptAjaxRequest, i.handleShouldIntercept)
	d.HandlePlugin(OnAjaxReadyStateChange, i.handleEvent(OnAjaxReadyStateChange, func() EventFunc {
		i.mu.RLock()
		defer i.mu.RUnlock()
		return i.onReadyStateChange
	}))
	d.HandlePlugin(OnAjaxProgress, i.handleEvent(OnAjaxProgress, func() EventFunc {
		i.mu.RLock()
		defer i.mu.RUnlock()
		return i.onProgress
	}))
}

func (i *Interceptor) handleShouldIntercept(ctx context.Context, call *bridge.Call) (interface{}, error) {
	var req Request
	if err := call.Arg(0, &req); err != nil {
		return nil, err
	}
	d, err := i.Decide(ctx, &req)
	if err != nil {
		return nil, err
	}
	i.record(ShouldInterceptAjaxRequest, d)
	if d == nil {
		return nil, nil
	}
	return d, nil
}

func (i *Interceptor) handleEvent(handler string, observer func() EventFunc) bridge.HandlerFunc {
	return func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		fn := observer()
		if fn == nil {
			return nil, nil
		}
		var ev Event
		if err := call.Arg(0, &ev); err != nil {
			return nil, err
		}
		d, err := fn(ctx, &ev)
		if err != nil {
			return nil, err
		}
		i.record(handler, d)
		if !d.IsAbort() {
			return nil, nil
		}
		return Abort(), nil
	}
}

func (i *Interceptor) record(handler string, d *Decision) {
	if i.recorder == nil {
		return
	}
	outcome := OutcomeProceed
	switch {
	case d.IsAbort():
		outcome = OutcomeAbort
	case d.Rewrites():
		outcome = OutcomeRewrite
	}
	i.recorder.RecordAjaxDecision(handler, outcome)
}

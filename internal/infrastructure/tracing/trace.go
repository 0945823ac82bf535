package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// Propagation headers.
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// Span is one traced operation: an HTTP request, a page evaluation or a
// link round trip.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	mu    sync.Mutex
	attrs map[string]string
}

// SetAttr attaches a key/value to the span.
func (s *Span) SetAttr(key, value string) {
	s.mu.Lock()
	if s.attrs == nil {
		s.attrs = make(map[string]string)
	}
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attrs returns a copy of the span attributes.
func (s *Span) Attrs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// Tracer hands finished spans to a background collector that logs them.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer buffering up to size finished spans.
func New(service string, logger *zap.Logger, size int) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1000
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, size),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

type contextKey int

const spanKey contextKey = iota

// Start opens a span as a child of the span in ctx, if any.
func (t *Tracer) Start(ctx context.Context, name string) (*Span, context.Context) {
	span := &Span{
		SpanID: id.NewRequestID().String(),
		Name:   name,
		Start:  time.Now(),
		attrs:  make(map[string]string),
	}
	if parent := FromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = id.NewRequestID().String()
	}
	return span, context.WithValue(ctx, spanKey, span)
}

// Resume opens a span continuing a remote trace. Empty ids start a new one.
func (t *Tracer) Resume(ctx context.Context, name, traceID, parentID string) (*Span, context.Context) {
	span, ctx := t.Start(ctx, name)
	if traceID != "" {
		span.TraceID = traceID
		span.ParentID = parentID
	}
	return span, ctx
}

// Finish records the span outcome and queues it for collection.
func (t *Tracer) Finish(span *Span, err error) {
	span.Duration = time.Since(span.Start)
	if err != nil {
		span.Err = err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.SpanID),
		)
	}
}

// Trace runs fn inside a span named name.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(ctx context.Context, span *Span) error) error {
	span, ctx := t.Start(ctx, name)
	err := fn(ctx, span)
	t.Finish(span, err)
	return err
}

// Close stops the collector after draining queued spans.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.log(span)
	}
}

func (t *Tracer) log(span *Span) {
	fields := []zap.Field{
		zap.String("service", t.service),
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}
	for k, v := range span.Attrs() {
		fields = append(fields, zap.String(k, v))
	}

	if span.Err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey).(*Span)
	return span
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	if span := FromContext(ctx); span != nil {
		return span.TraceID
	}
	return ""
}

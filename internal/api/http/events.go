package http

import (
	"context"
	"sync"
	"time"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/observer"
)

// Event is one page event as reported by the API.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// EventLog keeps the most recent events of a page.
type EventLog struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

var _ observer.Events = (*EventLog)(nil)

// NewEventLog creates a log holding up to limit events.
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = 100
	}
	return &EventLog{limit: limit}
}

func (l *EventLog) add(typ string, data interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Type: typ, Time: time.Now(), Data: data})
	if over := len(l.events) - l.limit; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}

// Events returns a copy of the logged events, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *EventLog) OnWindowFocus(context.Context) { l.add("focus", nil) }
func (l *EventLog) OnWindowBlur(context.Context)  { l.add("blur", nil) }

func (l *EventLog) OnPrint(_ context.Context, url string) {
	l.add("print", map[string]string{"url": url})
}

func (l *EventLog) OnLastImageTouched(_ context.Context, t observer.Touched) {
	l.add("image_touched", t)
}

func (l *EventLog) OnLastAnchorOrImageTouched(_ context.Context, t observer.Touched) {
	l.add("anchor_touched", t)
}

func (l *EventLog) OnConsoleMessage(_ context.Context, msg observer.ConsoleMessage) {
	l.add("console", msg)
}

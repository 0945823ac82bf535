package observer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
)

// ConsoleLevel is the console method a message was logged with.
type ConsoleLevel string

const (
	ConsoleLog   ConsoleLevel = "log"
	ConsoleDebug ConsoleLevel = "debug"
	ConsoleError ConsoleLevel = "error"
	ConsoleInfo  ConsoleLevel = "info"
	ConsoleWarn  ConsoleLevel = "warn"
)

// Console message levels as reported to the host application.
const (
	MessageLevelTip     = 0
	MessageLevelLog     = 1
	MessageLevelWarning = 2
	MessageLevelError   = 3
)

// MessageLevel maps a console method to its reported level. Unknown
// methods report as log.
func (l ConsoleLevel) MessageLevel() int {
	switch l {
	case ConsoleDebug:
		return MessageLevelTip
	case ConsoleWarn:
		return MessageLevelWarning
	case ConsoleError:
		return MessageLevelError
	default:
		return MessageLevelLog
	}
}

// ConsoleMessage is one relayed console call.
type ConsoleMessage struct {
	Level    ConsoleLevel `json:"level"`
	Message  string       `json:"message"`
	WindowID *int64       `json:"_windowId"`
}

// Touched describes the last touched image or anchor.
type Touched struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Src   string `json:"src,omitempty"`
}

// Events receives observer notifications. Embed NopEvents to implement a
// subset.
type Events interface {
	OnWindowFocus(ctx context.Context)
	OnWindowBlur(ctx context.Context)
	OnPrint(ctx context.Context, url string)
	OnLastImageTouched(ctx context.Context, t Touched)
	OnLastAnchorOrImageTouched(ctx context.Context, t Touched)
	OnConsoleMessage(ctx context.Context, msg ConsoleMessage)
}

// NopEvents ignores every event.
type NopEvents struct{}

func (NopEvents) OnWindowFocus(context.Context)                       {}
func (NopEvents) OnWindowBlur(context.Context)                        {}
func (NopEvents) OnPrint(context.Context, string)                     {}
func (NopEvents) OnLastImageTouched(context.Context, Touched)         {}
func (NopEvents) OnLastAnchorOrImageTouched(context.Context, Touched) {}
func (NopEvents) OnConsoleMessage(context.Context, ConsoleMessage)    {}

// Observer is the host side of the auxiliary page observers.
type Observer struct {
	events Events
	logger *zap.Logger

	mu                sync.RWMutex
	focused           bool
	lastImage         *Touched
	lastAnchorOrImage *Touched
}

// New creates an observer forwarding to events. A nil events discards
// notifications but state is still tracked.
func New(events Events, logger *zap.Logger) *Observer {
	if events == nil {
		events = NopEvents{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{events: events, logger: logger}
}

// Register wires the callHandler-based observers into d.
func (o *Observer) Register(d *bridge.Dispatcher) {
	d.HandlePlugin(WindowFocusHandler, func(ctx context.Context, _ *bridge.Call) (interface{}, error) {
		o.setFocused(true)
		o.events.OnWindowFocus(ctx)
		return nil, nil
	})
	d.HandlePlugin(WindowBlurHandler, func(ctx context.Context, _ *bridge.Call) (interface{}, error) {
		o.setFocused(false)
		o.events.OnWindowBlur(ctx)
		return nil, nil
	})
	d.HandlePlugin(PrintHandler, func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		var url string
		if call.NumArgs() > 0 {
			if err := call.Arg(0, &url); err != nil {
				return nil, err
			}
		}
		o.logger.Debug("Page requested print", zap.String("url", url))
		o.events.OnPrint(ctx, url)
		return nil, nil
	})
	d.HandlePlugin(LastImageTouchedHandler, func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		t, err := touchedArg(call)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.lastImage = &t
		o.mu.Unlock()
		o.events.OnLastImageTouched(ctx, t)
		return nil, nil
	})
	d.HandlePlugin(LastAnchorOrImageTouchedHandler, func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		t, err := touchedArg(call)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.lastAnchorOrImage = &t
		o.mu.Unlock()
		o.events.OnLastAnchorOrImageTouched(ctx, t)
		return nil, nil
	})
}

func touchedArg(call *bridge.Call) (Touched, error) {
	var t Touched
	if err := call.Arg(0, &t); err != nil {
		return Touched{}, err
	}
	return t, nil
}

// HandleConsoleMessage decodes an onConsoleMessage payload and forwards it.
func (o *Observer) HandleConsoleMessage(ctx context.Context, body []byte) error {
	var msg ConsoleMessage
	if err := sonic.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode console message: %w", err)
	}
	msg.Level = ConsoleLevel(strings.ToLower(string(msg.Level)))
	if msg.Level == "" {
		msg.Level = ConsoleLog
	}
	o.events.OnConsoleMessage(ctx, msg)
	return nil
}

func (o *Observer) setFocused(focused bool) {
	o.mu.Lock()
	o.focused = focused
	o.mu.Unlock()
}

// Focused reports whether the last window event was a focus.
func (o *Observer) Focused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.focused
}

// LastImageTouched returns the last touched image.
func (o *Observer) LastImageTouched() (Touched, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastImage == nil {
		return Touched{}, false
	}
	return *o.lastImage, true
}

// LastAnchorOrImageTouched returns the last touched anchor, or image
// inside an anchor.
func (o *Observer) LastAnchorOrImageTouched() (Touched, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastAnchorOrImage == nil {
		return Touched{}, false
	}
	return *o.lastAnchorOrImage, true
}

// Reset forgets page state, for when a new document loads.
func (o *Observer) Reset() {
	o.mu.Lock()
	o.focused = false
	o.lastImage = nil
	o.lastAnchorOrImage = nil
	o.mu.Unlock()
}

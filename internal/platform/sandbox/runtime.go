package sandbox

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

//go:embed prelude.js
var preludeJS string

var prelude = goja.MustCompile("prelude.js", preludeJS, false)

// world is one JavaScript global scope of the page.
type world struct {
	name      string
	vm        *goja.Runtime
	handlers  *goja.Object
	stringify goja.Callable
}

// newWorldLocked creates a runtime for name with the page prelude, the
// current location and host bindings installed.
func (p *Page) newWorldLocked(name string) (*world, error) {
	vm := goja.New()
	if p.cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(p.cfg.MaxCallStackSize)
	}

	w := &world{name: name, vm: vm}
	if err := p.setupGlobals(w); err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(prelude); err != nil {
		return nil, fmt.Errorf("failed to install prelude: %w", err)
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify is not callable")
	}
	w.stringify = stringify

	window := vm.GlobalObject()
	loc := vm.ToValue(locationFields(p.location))
	if err := window.Set("location", loc); err != nil {
		return nil, err
	}
	document := window.Get("document").ToObject(vm)
	_ = document.Set("location", loc)
	_ = document.Set("URL", p.location.String())

	if p.cfg.Kind.SupportsContentWorlds() {
		webkit := vm.NewObject()
		w.handlers = vm.NewObject()
		_ = webkit.Set("messageHandlers", w.handlers)
		_ = window.Set("webkit", webkit)
		for handler := range p.handlerNames[name] {
			if err := p.bindHandler(w, handler); err != nil {
				return nil, err
			}
		}
	} else {
		_ = window.Set("__nativeHostPost", func(call goja.FunctionCall) goja.Value {
			p.postLocked(w, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		})
	}

	return w, nil
}

// setupGlobals configures global objects and security
func (p *Page) setupGlobals(w *world) error {
	vm := w.vm

	// Remove dangerous globals
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, p.makeConsoleFunc(w, level)); err != nil {
			return err
		}
	}
	vm.Set("console", console)

	vm.Set("setTimeout", p.makeTimerFunc(w, false))
	vm.Set("setInterval", p.makeTimerFunc(w, true))
	vm.Set("clearTimeout", p.makeClearFunc(w))
	vm.Set("clearInterval", p.makeClearFunc(w))
	vm.Set("__nativeFetch", p.makeFetchFunc(w))

	return nil
}

// bindHandler exposes window.webkit.messageHandlers[name] in w.
func (p *Page) bindHandler(w *world, name string) error {
	handler := w.vm.NewObject()
	if err := handler.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		p.postLocked(w, name, call.Argument(0))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return w.handlers.Set(name, handler)
}

// makeConsoleFunc creates a console function
func (p *Page) makeConsoleFunc(w *world, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !p.cfg.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		p.logLocked(w.name, level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (p *Page) logLocked(world, level, msg string) {
	p.console = append(p.console, LogEntry{
		World:   world,
		Level:   level,
		Message: msg,
		Time:    time.Now(),
	})
	p.logger.Debug("Page console", zap.String("world", world), zap.String("level", level), zap.String("message", msg))
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

const (
	// DefaultName is the page-side bridge object name.
	DefaultName = "flutter_inappwebview"

	// GroupName is the script group of the bridge plugin script.
	GroupName = "IN_APP_WEBVIEW_JAVASCRIPT_BRIDGE_JS_PLUGIN_SCRIPT"
	// WindowIDGroupName is the script group of the window id script.
	WindowIDGroupName = "IN_APP_WEBVIEW_WINDOW_ID_JS_PLUGIN_SCRIPT"

	// CallHandlerMessage is the host message handler the bridge posts to.
	CallHandlerMessage = "callHandler"

	// WebKitPostToHost posts through WKScriptMessageHandler-style bindings.
	// Handlers are looked up lazily and cached, so page script replacing
	// window.webkit later cannot intercept bridge traffic.
	WebKitPostToHost = `(function() {
  var handlers = window.webkit.messageHandlers;
  var cache = {};
  return function(name, message) {
    var handler = cache[name] || (cache[name] = handlers[name]);
    handler.postMessage.call(handler, message);
  };
})()`
)

var (
	//go:embed bridge.js
	bridgeJS string
	//go:embed util.js
	utilJS string

	ErrInvalidBridgeName = errors.New("bridge name must be a JavaScript identifier")
)

// Options configure the generated bridge script.
type Options struct {
	// Name is the window property holding the bridge.
	Name string
	// Secret is embedded into the script and checked on every call.
	Secret string
	// CallTimeout rejects pending page promises after the bound. Zero
	// leaves them pending until the page goes away.
	CallTimeout time.Duration
	// PostToHost is a JavaScript expression evaluating to a
	// function(name, message) that delivers messages to the host.
	PostToHost string
	// AllowedOriginRules restrict which origins get the bridge; nil
	// installs it everywhere.
	AllowedOriginRules []origin.Rule
	ForMainFrameOnly   bool
}

// ValidateName checks that a bridge name can be spliced into page source.
func ValidateName(name string) error {
	if !utils.IsJSIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidBridgeName, name)
	}
	return nil
}

// Source renders the bridge and utility scripts.
func Source(opts Options) (string, error) {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	post := opts.PostToHost
	if post == "" {
		post = WebKitPostToHost
	}

	r := strings.NewReplacer(
		"__BRIDGE__", name,
		"__SECRET__", utils.JSString(opts.Secret),
		"__CALL_TIMEOUT__", strconv.FormatInt(opts.CallTimeout.Milliseconds(), 10),
		"__POST_TO_HOST__", post,
		"__WINDOW_ID_VAR__", WindowIDVar(name),
	)
	return r.Replace(bridgeJS) + "\n" + r.Replace(utilJS), nil
}

// Script returns the bridge plugin script. It is required in every content
// world and wires the callHandler message handler.
func Script(opts Options) (script.InjectableScript, error) {
	src, err := Source(opts)
	if err != nil {
		return script.InjectableScript{}, err
	}
	return script.InjectableScript{
		GroupName:                  GroupName,
		Source:                     src,
		InjectionTime:              script.AtDocumentStart,
		ForMainFrameOnly:           opts.ForMainFrameOnly,
		AllowedOriginRules:         opts.AllowedOriginRules,
		RequiredInAllContentWorlds: true,
		MessageHandlerNames:        []string{CallHandlerMessage},
		Plugin:                     true,
	}, nil
}

// Var returns the page-side expression for a bridge property.
func Var(name, property string) string {
	return "window." + name + "." + property
}

// WindowIDVar is the window property holding the window id.
func WindowIDVar(name string) string {
	return "_" + name + "_windowId"
}

// WindowIDScript initialises the window id read by callHandler. Windows
// opened by the page carry the id of their host-side window.
func WindowIDScript(name string, windowID int64) script.InjectableScript {
	return script.InjectableScript{
		GroupName:                  WindowIDGroupName,
		Source:                     "window." + WindowIDVar(name) + " = " + strconv.FormatInt(windowID, 10) + ";",
		InjectionTime:              script.AtDocumentStart,
		RequiredInAllContentWorlds: true,
		Plugin:                     true,
	}
}

// ResolveScript settles the pending page promise of callID with result,
// encoded as JSON and parsed back in the page.
func ResolveScript(name string, callID interface{}, result interface{}) (string, error) {
	id, err := utils.JSLiteral(callID)
	if err != nil {
		return "", err
	}
	payload, err := utils.JSLiteral(result)
	if err != nil {
		return "", err
	}
	return settleScript(name, id, "entry.resolve(JSON.parse("+utils.JSString(payload)+"));"), nil
}

// RejectScript rejects the pending page promise of callID with an Error
// carrying message.
func RejectScript(name string, callID interface{}, message string) (string, error) {
	id, err := utils.JSLiteral(callID)
	if err != nil {
		return "", err
	}
	return settleScript(name, id, "entry.reject(new Error("+utils.JSString(message)+"));"), nil
}

func settleScript(name, id, settle string) string {
	return "(function() {\n" +
		"  var bridge = window." + name + ";\n" +
		"  var entry = bridge != null && bridge._pending != null ? bridge._pending[" + id + "] : null;\n" +
		"  if (entry != null) {\n" +
		"    delete bridge._pending[" + id + "];\n" +
		"    " + settle + "\n" +
		"  }\n" +
		"})();"
}

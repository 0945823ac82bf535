package observer

import (
	_ "embed"
	"strings"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// Plugin script groups.
const (
	ConsoleGroupName        = "IN_APP_WEBVIEW_CONSOLE_LOG_JS_PLUGIN_SCRIPT"
	PrintGroupName          = "IN_APP_WEBVIEW_PRINT_JS_PLUGIN_SCRIPT"
	FocusGroupName          = "IN_APP_WEBVIEW_ON_WINDOW_FOCUS_EVENT_JS_PLUGIN_SCRIPT"
	BlurGroupName           = "IN_APP_WEBVIEW_ON_WINDOW_BLUR_EVENT_JS_PLUGIN_SCRIPT"
	LastTouchedGroupName    = "IN_APP_WEBVIEW_LAST_TOUCHED_ANCHOR_OR_IMAGE_JS_PLUGIN_SCRIPT"
	ViewportGroupName       = "IN_APP_WEBVIEW_ORIGINAL_VIEWPORT_METATAG_CONTENT_JS_PLUGIN_SCRIPT"
	NotSupportZoomGroupName = "IN_APP_WEBVIEW_NOT_SUPPORT_ZOOM_JS_PLUGIN_SCRIPT"
)

// Host handler names. ConsoleMessageHandler is a message handler of its own;
// the rest travel through callHandler.
const (
	ConsoleMessageHandler           = "onConsoleMessage"
	WindowFocusHandler              = "onWindowFocus"
	WindowBlurHandler               = "onWindowBlur"
	PrintHandler                    = "onPrint"
	LastImageTouchedHandler         = "onLastImageTouched"
	LastAnchorOrImageTouchedHandler = "onLastAnchorOrImageTouched"
)

// Page-side properties kept on the bridge object.
const (
	OriginalViewportProperty  = "_originalViewPortMetaTagContent"
	LastImageTouchedProperty  = "_lastImageTouched"
	LastAnchorTouchedProperty = "_lastAnchorOrImageTouched"
)

// NotSupportZoomContent is the viewport content that disables pinch zoom.
const NotSupportZoomContent = "width=device-width, initial-scale=1.0, maximum-scale=1.0, user-scalable=no"

var (
	//go:embed console.js
	consoleJS string
	//go:embed touch.js
	touchJS string
	//go:embed zoom.js
	zoomJS string
)

const windowEventJS = `(function(window) {
  try {
    window.addEventListener('__EVENT__', function() {
      try {
        var bridge = window.__BRIDGE__;
        if (bridge != null && typeof bridge.callHandler === 'function') {
          bridge.callHandler('__HANDLER__');
        }
      } catch (_) {}
    });
  } catch (_) {}
})(window);`

const printJS = `(function(window) {
  try {
    window.print = function() {
      try {
        if (window.top == null || window.top === window) {
          window.__BRIDGE__.callHandler('__HANDLER__', window.location.href);
        } else {
          window.top.print();
        }
      } catch (_) {}
    };
  } catch (_) {}
})(window);`

const viewportJS = `(function(window) {
  try {
    var bridge = window.__BRIDGE__ = window.__BRIDGE__ || {};
    bridge.__PROPERTY__ = '';
    var metas = document.head.getElementsByTagName('meta');
    for (var i = 0; i < metas.length; i++) {
      if (metas[i].name === 'viewport') {
        bridge.__PROPERTY__ = metas[i].content;
      }
    }
  } catch (_) {}
})(window);`

// Options configure the observer scripts.
type Options struct {
	// Name is the page-side bridge name.
	Name string
	// PostToHost delivers console messages; it defaults to the WebKit
	// message handlers.
	PostToHost string
}

func (o Options) name() string {
	if o.Name == "" {
		return bridge.DefaultName
	}
	return o.Name
}

func (o Options) replacer(extra ...string) (*strings.Replacer, error) {
	name := o.name()
	if err := bridge.ValidateName(name); err != nil {
		return nil, err
	}
	post := o.PostToHost
	if post == "" {
		post = bridge.WebKitPostToHost
	}
	pairs := append([]string{
		"__BRIDGE__", name,
		"__POST_TO_HOST__", post,
		"__WINDOW_ID_VAR__", bridge.WindowIDVar(name),
	}, extra...)
	return strings.NewReplacer(pairs...), nil
}

func render(opts Options, src string, extra ...string) (string, error) {
	r, err := opts.replacer(extra...)
	if err != nil {
		return "", err
	}
	return r.Replace(src), nil
}

// Scripts returns the observer plugin scripts in installation order:
// console relay, print, focus, blur, last touched, viewport capture.
func Scripts(opts Options) ([]script.InjectableScript, error) {
	type spec struct {
		group     string
		src       string
		time      script.InjectionTime
		mainFrame bool
		handlers  []string
		extra     []string
	}
	specs := []spec{
		{group: ConsoleGroupName, src: consoleJS, handlers: []string{ConsoleMessageHandler},
			extra: []string{"__HANDLER__", ConsoleMessageHandler}},
		{group: PrintGroupName, src: printJS,
			extra: []string{"__HANDLER__", PrintHandler}},
		{group: FocusGroupName, src: windowEventJS, mainFrame: true,
			extra: []string{"__EVENT__", "focus", "__HANDLER__", WindowFocusHandler}},
		{group: BlurGroupName, src: windowEventJS, mainFrame: true,
			extra: []string{"__EVENT__", "blur", "__HANDLER__", WindowBlurHandler}},
		{group: LastTouchedGroupName, src: touchJS,
			extra: []string{"__IMAGE_HANDLER__", LastImageTouchedHandler, "__ANCHOR_HANDLER__", LastAnchorOrImageTouchedHandler}},
		{group: ViewportGroupName, src: viewportJS, time: script.AtDocumentEnd, mainFrame: true,
			extra: []string{"__PROPERTY__", OriginalViewportProperty}},
	}

	scripts := make([]script.InjectableScript, 0, len(specs))
	for _, s := range specs {
		src, err := render(opts, s.src, s.extra...)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script.InjectableScript{
			GroupName:           s.group,
			Source:              src,
			InjectionTime:       s.time,
			ForMainFrameOnly:    s.mainFrame,
			MessageHandlerNames: s.handlers,
			Plugin:              true,
		})
	}
	return scripts, nil
}

// ZoomSource returns the page source applying the zoom setting. Supporting
// zoom restores the captured viewport content; otherwise the viewport is
// pinned to NotSupportZoomContent.
func ZoomSource(opts Options, support bool) (string, error) {
	content := utils.JSString(NotSupportZoomContent)
	if support {
		content = "(window." + opts.name() + " != null ? " + bridge.Var(opts.name(), OriginalViewportProperty) + " : '')"
	}
	return render(opts, zoomJS, "__CONTENT__", content)
}

// NotSupportZoomScript returns the plugin script pinning the viewport at
// document end.
func NotSupportZoomScript(opts Options) (script.InjectableScript, error) {
	src, err := ZoomSource(opts, false)
	if err != nil {
		return script.InjectableScript{}, err
	}
	return script.InjectableScript{
		GroupName:        NotSupportZoomGroupName,
		Source:           src,
		InjectionTime:    script.AtDocumentEnd,
		ForMainFrameOnly: true,
		Plugin:           true,
	}, nil
}

package ajax

import (
	_ "embed"
	"strings"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// GroupName is the script group of the interception engine and its flags.
const GroupName = "IN_APP_WEBVIEW_INTERCEPT_AJAX_REQUEST_JS_PLUGIN_SCRIPT"

// Page-side flags read by the engine on every request.
const (
	FlagShouldInterceptAjaxRequest     = "_useShouldInterceptAjaxRequest"
	FlagOnAjaxReadyStateChange         = "_useOnAjaxReadyStateChange"
	FlagOnAjaxProgress                 = "_useOnAjaxProgress"
	FlagInterceptOnlyAsyncAjaxRequests = "_interceptOnlyAsyncAjaxRequests"
)

//go:embed ajax.js
var ajaxJS string

// Options configure the engine script.
type Options struct {
	// Name is the page-side bridge name.
	Name                      string
	UseOnAjaxReadyStateChange bool
	UseOnAjaxProgress         bool
	AllowedOriginRules        []origin.Rule
	ForMainFrameOnly          bool
}

func (o Options) name() string {
	if o.Name == "" {
		return bridge.DefaultName
	}
	return o.Name
}

// Source renders the engine script.
func Source(opts Options) (string, error) {
	name := opts.name()
	if err := bridge.ValidateName(name); err != nil {
		return "", err
	}
	return strings.NewReplacer(
		"__BRIDGE__", name,
		"__USE_ON_READY_STATE_CHANGE__", utils.JSBool(opts.UseOnAjaxReadyStateChange),
		"__USE_ON_PROGRESS__", utils.JSBool(opts.UseOnAjaxProgress),
	).Replace(ajaxJS), nil
}

// Script returns the engine plugin script.
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
		Plugin:                     true,
	}, nil
}

// OnlyAsyncScript returns the plugin script that sets the
// intercept-only-async flag. It shares the engine's group.
func OnlyAsyncScript(opts Options, onlyAsync bool) script.InjectableScript {
	return script.InjectableScript{
		GroupName:                  GroupName,
		Source:                     FlagScript(opts.name(), FlagInterceptOnlyAsyncAjaxRequests, onlyAsync),
		InjectionTime:              script.AtDocumentStart,
		ForMainFrameOnly:           opts.ForMainFrameOnly,
		AllowedOriginRules:         opts.AllowedOriginRules,
		RequiredInAllContentWorlds: true,
		Plugin:                     true,
	}
}

// FlagScript returns the statement setting a page-side flag.
func FlagScript(name, flag string, value bool) string {
	return bridge.Var(name, flag) + " = " + utils.JSBool(value) + ";"
}

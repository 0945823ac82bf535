package script

import (
	"strings"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// Materialize wraps the script source in a guard that only lets it run when
// window.location.origin matches one of the allowed rules.
//
// Scripts without rules, or with the "*" rule, are returned unchanged. An
// empty rule list yields the empty string.
func Materialize(s InjectableScript) string {
	rules := s.AllowedOriginRules
	if rules == nil || origin.HasAny(rules) {
		return s.Source
	}
	if len(rules) == 0 {
		return ""
	}
	return "if (" + OriginCondition(rules) + ") {\n" + s.Source + "\n}"
}

// OriginCondition returns a JavaScript boolean expression that is true when
// window.location.origin matches any of the rules.
func OriginCondition(rules []origin.Rule) string {
	regexps := make([]string, 0, len(rules))
	for _, p := range origin.GuardPatterns(rules) {
		regexps = append(regexps, "new RegExp("+utils.JSString(p)+")")
	}
	return "[" + strings.Join(regexps, ", ") +
		"].some(function(rx) { return rx.test(window.location.origin); })"
}

// WrapDocumentEnd defers source until the window load event, running it
// immediately when the document has already loaded. Adapters that can only
// inject at document start use it for at-document-end scripts.
func WrapDocumentEnd(source string) string {
	return "(function() {\n" +
		"  var run = function() {\n" + source + "\n  };\n" +
		"  if (document.readyState === 'complete') { run(); } else { window.addEventListener('load', run); }\n" +
		"})();"
}

// WrapMainFrameOnly guards source so it only runs in the top-level window.
func WrapMainFrameOnly(source string) string {
	return "if (window === window.top) {\n" + source + "\n}"
}

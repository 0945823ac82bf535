package origin

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// GuardPattern returns an anchored RegExp source (valid for both Go and
// JavaScript) matching the window.location.origin values the rule allows
// under suffix matching. Browsers omit default ports from origins, so the
// port is optional when it equals the scheme default.
func (r Rule) GuardPattern() string {
	if r.Any {
		return ".*"
	}

	var sb strings.Builder
	sb.WriteByte('^')
	sb.WriteString(regexp.QuoteMeta(r.Scheme))
	sb.WriteString("://")

	switch {
	case r.Host == "":
		sb.WriteString(`[^/:]*`)
	case r.IsWildcardHost():
		sb.WriteString(`[^/:]*`)
		sb.WriteString(regexp.QuoteMeta(r.Host[1:]))
	case r.IsIPv6():
		host := stripBrackets(r.Host)
		if addr, err := netip.ParseAddr(host); err == nil {
			host = addr.String()
		}
		sb.WriteString(`\[`)
		sb.WriteString(regexp.QuoteMeta(host))
		sb.WriteString(`\]`)
	default:
		sb.WriteString(regexp.QuoteMeta(r.Host))
	}

	port := strconv.Itoa(r.EffectivePort())
	if r.EffectivePort() == effectivePort(r.Scheme, 0) {
		sb.WriteString("(:" + port + ")?")
	} else {
		sb.WriteString(":" + port)
	}
	sb.WriteByte('$')
	return sb.String()
}

// GuardPatterns returns the guard pattern of every rule.
func GuardPatterns(rules []Rule) []string {
	patterns := make([]string, 0, len(rules))
	for _, r := range rules {
		patterns = append(patterns, r.GuardPattern())
	}
	return patterns
}

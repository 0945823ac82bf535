package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Mode selects how "*." wildcard hosts are compared.
type Mode int

const (
	// MatchSuffix requires the candidate host to end with the part of the
	// rule host after the "*".
	MatchSuffix Mode = iota
	// MatchSubstring accepts any candidate host containing that part,
	// reproducing the indexOf check of older page-side implementations.
	MatchSubstring
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case MatchSuffix:
		return "suffix"
	case MatchSubstring:
		return "substring"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "substring") {
		return MatchSubstring
	}
	return MatchSuffix
}

// Matcher decides whether an origin is allowed by a list of rules.
type Matcher struct {
	Mode Mode
}

// IsAllowed reports whether (scheme, host, port) is allowed using
// suffix-anchored wildcard matching.
func IsAllowed(rules []Rule, scheme, host string, port int) bool {
	return Matcher{}.IsAllowed(rules, scheme, host, port)
}

// IsAllowed reports whether any rule allows the origin. An empty scheme or
// an origin with no scheme, host and port (about:blank and friends) never
// matches anything but the "*" rule.
func (m Matcher) IsAllowed(rules []Rule, scheme, host string, port int) bool {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)

	for _, rule := range rules {
		if rule.Any {
			return true
		}
		// an empty scheme also covers the fully empty (about:blank) origin
		if scheme == "" {
			continue
		}
		if scheme != rule.Scheme {
			continue
		}
		if effectivePort(scheme, port) != rule.EffectivePort() {
			continue
		}
		if m.hostAllowed(rule, host) {
			return true
		}
	}
	return false
}

// IsURLAllowed parses rawURL and checks its origin against the rules.
// Unparseable URLs are only allowed by the "*" rule.
func (m Matcher) IsURLAllowed(rules []Rule, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HasAny(rules)
	}
	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	return m.IsAllowed(rules, u.Scheme, u.Hostname(), port)
}

func (m Matcher) hostAllowed(rule Rule, host string) bool {
	if rule.Host == "" || rule.Host == host {
		return true
	}

	if rule.IsWildcardHost() && host != "" {
		suffix := rule.Host[1:]
		if m.Mode == MatchSubstring {
			return strings.Contains(host, suffix)
		}
		return strings.HasSuffix(host, suffix)
	}

	if rule.IsIPv6() && IsIPv6Literal(host) {
		return NormalizeIPv6(stripBrackets(rule.Host)) == NormalizeIPv6(stripBrackets(host))
	}
	return false
}

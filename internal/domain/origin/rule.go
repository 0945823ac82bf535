package origin

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Wildcard is the rule string that allows every origin.
const Wildcard = "*"

var (
	// ErrInvalidRule is returned for rule strings that cannot be parsed or
	// violate the rule invariants.
	ErrInvalidRule = errors.New("invalid origin rule")
)

// Rule is a parsed origin allowlist entry.
//
// A zero Port means "the default port of the scheme". Rules are values and
// never change once parsed.
type Rule struct {
	Scheme string
	Host   string
	Port   int
	Any    bool
}

// AnyRule returns the rule that matches every origin.
func AnyRule() Rule {
	return Rule{Any: true}
}

// Parse parses "*" or scheme://host[:port].
func Parse(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	if s == Wildcard {
		return AnyRule(), nil
	}

	idx := strings.Index(s, "://")
	if idx <= 0 {
		return Rule{}, invalid(raw, "missing scheme")
	}
	scheme := strings.ToLower(s[:idx])
	if !validScheme(scheme) {
		return Rule{}, invalid(raw, "malformed scheme")
	}

	rest := s[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		if rest[slash:] != "/" {
			return Rule{}, invalid(raw, "rules cannot carry a path")
		}
		rest = rest[:slash]
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return Rule{}, invalid(raw, err.Error())
	}

	r := Rule{Scheme: scheme, Host: strings.ToLower(host), Port: port}
	if err := r.validate(); err != nil {
		return Rule{}, invalid(raw, err.Error())
	}
	return r, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(raw string) Rule {
	r, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseAll parses a list of rule strings. A nil input yields a nil slice,
// which callers treat as "no restriction"; an empty input yields an empty,
// non-nil slice.
func ParseAll(raw []string) ([]Rule, error) {
	if raw == nil {
		return nil, nil
	}
	rules := make([]Rule, 0, len(raw))
	for _, s := range raw {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// HasAny reports whether the list contains the "*" rule.
func HasAny(rules []Rule) bool {
	for _, r := range rules {
		if r.Any {
			return true
		}
	}
	return false
}

// IsWildcardHost reports whether the host starts with a "*." segment.
func (r Rule) IsWildcardHost() bool {
	return strings.HasPrefix(r.Host, "*")
}

// IsIPv6 reports whether the host is a bracketed IPv6 literal.
func (r Rule) IsIPv6() bool {
	return strings.HasPrefix(r.Host, "[")
}

// EffectivePort returns the explicit port or the scheme default.
func (r Rule) EffectivePort() int {
	return effectivePort(r.Scheme, r.Port)
}

// String renders the rule back to its textual form.
func (r Rule) String() string {
	if r.Any {
		return Wildcard
	}
	var sb strings.Builder
	sb.WriteString(r.Scheme)
	sb.WriteString("://")
	sb.WriteString(r.Host)
	if r.Port != 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(r.Port))
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rule) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rule) validate() error {
	switch r.Scheme {
	case "http", "https":
		if r.Host == "" {
			return fmt.Errorf("%s rules require a host", r.Scheme)
		}
	default:
		if r.Host != "" || r.Port != 0 {
			return fmt.Errorf("%s rules cannot have a host or port", r.Scheme)
		}
		return nil
	}

	if strings.Contains(r.Host, "*") {
		if !strings.HasPrefix(r.Host, "*.") || strings.Contains(r.Host[2:], "*") || len(r.Host) == 2 {
			return errors.New("only a single leading '*.' wildcard segment is allowed")
		}
	}

	if !r.IsIPv6() && strings.ContainsAny(r.Host, ":[]") {
		return errors.New("IPv6 hosts must be bracketed")
	}

	if r.IsIPv6() {
		if !strings.HasSuffix(r.Host, "]") {
			return errors.New("unterminated IPv6 literal")
		}
		addr, err := netip.ParseAddr(r.Host[1 : len(r.Host)-1])
		if err != nil || !addr.Is6() {
			return fmt.Errorf("%s is not a valid IPv6 literal", r.Host)
		}
	}
	return nil
}

func splitHostPort(hostport string) (string, int, error) {
	host := hostport
	portStr := ""

	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, errors.New("unterminated IPv6 literal")
		}
		host = hostport[:end+1]
		tail := hostport[end+1:]
		if tail != "" {
			if tail[0] != ':' {
				return "", 0, errors.New("unexpected characters after IPv6 literal")
			}
			portStr = tail[1:]
		}
	} else if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		host = hostport[:i]
		portStr = hostport[i+1:]
	}

	if portStr == "" {
		if strings.HasSuffix(hostport, ":") {
			return "", 0, errors.New("empty port")
		}
		return host, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("port %q out of range", portStr)
	}
	return host, port, nil
}

func validScheme(s string) bool {
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}

func effectivePort(scheme string, port int) int {
	if port != 0 {
		return port
	}
	if scheme == "https" {
		return 443
	}
	return 80
}

func invalid(raw, reason string) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidRule, raw, reason)
}

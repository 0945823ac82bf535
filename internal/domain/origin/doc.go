/*
Package origin parses and evaluates origin allowlist rules.

A rule is either "*" or scheme://host[:port]. Hosts may start with a single
"*." wildcard segment or be a bracketed IPv6 literal:

	https://example.com
	https://*.example.com:8443
	http://[::1]
	myapp://

Matching compares scheme, host and effective port (443 for https, 80
otherwise). Wildcard hosts are suffix-anchored unless the Matcher runs in
MatchSubstring mode.

Rules also render to anchored RegExp sources through GuardPattern, which the
script package embeds into page-side origin guards.
*/
package origin

package origin

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

var ipv4Tail = regexp.MustCompile(`^(.*:)([0-9]+)\.([0-9]+)\.([0-9]+)\.([0-9]+)$`)

// NormalizeIPv6 expands an IPv6 literal to eight colon-separated groups of
// four hex digits. An embedded IPv4 tail becomes two hex groups. Brackets
// are stripped first, so "[::1]", "::1" and "0:0:0:0:0:0:0:1" all
// normalize to the same string.
func NormalizeIPv6(ip string) string {
	ip = strings.ToLower(stripBrackets(ip))

	if m := ipv4Tail.FindStringSubmatch(ip); m != nil {
		var sb strings.Builder
		sb.WriteString(m[1])
		for i := 2; i < 6; i++ {
			b, _ := strconv.Atoi(m[i])
			hex := fmt.Sprintf("%02x", b)
			sb.WriteString(hex[len(hex)-2:])
			if i == 3 {
				sb.WriteByte(':')
			}
		}
		ip = sb.String()
	}

	ip = strings.TrimPrefix(ip, ":")
	ip = strings.TrimSuffix(ip, ":")

	groups := strings.Split(ip, ":")
	out := make([]string, len(groups))
	for i, g := range groups {
		if g != "" {
			out[i] = leftPad(g)
			continue
		}
		zeros := make([]string, 0, 9-len(groups))
		for j := len(groups); j <= 8; j++ {
			zeros = append(zeros, "0000")
		}
		out[i] = strings.Join(zeros, ":")
	}
	return strings.Join(out, ":")
}

// IsIPv6Literal reports whether host, with or without brackets, is an IPv6
// address.
func IsIPv6Literal(host string) bool {
	addr, err := netip.ParseAddr(stripBrackets(host))
	return err == nil && addr.Is6()
}

func leftPad(group string) string {
	padded := "0000" + group
	return padded[len(padded)-4:]
}

func stripBrackets(host string) string {
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}

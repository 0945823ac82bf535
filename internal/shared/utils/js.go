package utils

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

var jsAPI = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	ValidateString:   true,
	CompactMarshaler: true,
}.Froze()

// JSString quotes s as a JavaScript string literal. JSON strings are valid
// JavaScript literals; HTML-sensitive characters and the U+2028/U+2029 line
// separators are escaped so the literal is safe inside inline <script> tags.
func JSString(s string) string {
	out, err := jsAPI.MarshalToString(s)
	if err != nil {
		// ValidateString replaces invalid UTF-8, so this is unreachable in
		// practice; fall back to a lossless manual escape.
		return fmt.Sprintf("%q", s)
	}
	return escapeLineSeparators(out)
}

// JSLiteral renders v as a JavaScript expression via JSON.
func JSLiteral(v interface{}) (string, error) {
	out, err := jsAPI.MarshalToString(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode JS literal: %w", err)
	}
	return escapeLineSeparators(out), nil
}

// JSBool renders a boolean literal.
func JSBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func escapeLineSeparators(s string) string {
	if !strings.ContainsAny(s, "\u2028\u2029") {
		return s
	}
	return strings.NewReplacer("\u2028", `\u2028`, "\u2029", `\u2029`).Replace(s)
}

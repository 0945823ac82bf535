package ajax

import (
	"regexp"
	"strings"
)

// formDataMarker is the boundary prefix WebKit uses for multipart bodies.
const formDataMarker = "------WebKitFormBoundary"

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// ParseResponseHeaders parses a getAllResponseHeaders blob. Lines split on
// the first ": "; later separators stay in the value. An empty blob yields
// an empty map.
func ParseResponseHeaders(blob string) map[string]string {
	headers := make(map[string]string)
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return headers
	}
	for _, line := range lineBreaks.Split(blob, -1) {
		name, value, _ := strings.Cut(line, ": ")
		if name == "" {
			continue
		}
		headers[name] = value
	}
	return headers
}

// IsMultipartBody reports whether a decoded body looks like WebKit
// multipart form data.
func IsMultipartBody(body string) bool {
	return strings.Contains(body, formDataMarker)
}

// FormDataContentType derives the multipart Content-Type from a decoded
// body: the boundary is the 40 characters starting at offset 2, past the
// leading "--".
func FormDataContentType(body string) string {
	boundary := ""
	if len(body) > 2 {
		end := 42
		if end > len(body) {
			end = len(body)
		}
		boundary = body[2:end]
	}
	return "multipart/form-data; boundary=" + boundary
}

// MergeHeader sets name to value, comma-joining with any existing value.
func MergeHeader(headers map[string]string, name, value string) {
	if current, ok := headers[name]; ok {
		headers[name] = current + ", " + value
		return
	}
	headers[name] = value
}

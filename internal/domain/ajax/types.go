package ajax

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Host handler names the page-side engine calls.
const (
	ShouldInterceptAjaxRequest = "shouldInterceptAjaxRequest"
	OnAjaxReadyStateChange     = "onAjaxReadyStateChange"
	OnAjaxProgress             = "onAjaxProgress"
)

var ErrInvalidBody = errors.New("invalid ajax body")

// Body is a request body as it crosses the bridge: strings stay text, every
// other body travels as an array of byte values.
type Body struct {
	Text  *string
	Bytes []byte
}

// TextBody returns a text body.
func TextBody(s string) *Body {
	return &Body{Text: &s}
}

// BytesBody returns a binary body.
func BytesBody(b []byte) *Body {
	return &Body{Bytes: b}
}

// IsNull reports whether the body is absent.
func (b *Body) IsNull() bool {
	return b == nil || (b.Text == nil && b.Bytes == nil)
}

// String returns the body as text, decoding bytes one char per byte the way
// the page does.
func (b *Body) String() string {
	switch {
	case b == nil:
		return ""
	case b.Text != nil:
		return *b.Text
	default:
		runes := make([]rune, len(b.Bytes))
		for i, c := range b.Bytes {
			runes[i] = rune(c)
		}
		return string(runes)
	}
}

// MarshalJSON encodes text as a JSON string and bytes as a number array.
func (b Body) MarshalJSON() ([]byte, error) {
	switch {
	case b.Text != nil:
		return sonic.Marshal(*b.Text)
	case b.Bytes != nil:
		out := make([]byte, 0, 2+len(b.Bytes)*4)
		out = append(out, '[')
		for i, c := range b.Bytes {
			if i > 0 {
				out = append(out, ',')
			}
			out = strconv.AppendUint(out, uint64(c), 10)
		}
		return append(out, ']'), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a string or an array of byte values.
func (b *Body) UnmarshalJSON(data []byte) error {
	*b = Body{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
		b.Text = &s
		return nil
	}
	var values []int
	if err := sonic.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	b.Bytes = make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: byte %d out of range", ErrInvalidBody, v)
		}
		b.Bytes[i] = byte(v)
	}
	return nil
}

// Request is the payload of shouldInterceptAjaxRequest.
type Request struct {
	Data            *Body             `json:"data"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	IsAsync         bool              `json:"isAsync"`
	User            *string           `json:"user"`
	Password        *string           `json:"password"`
	WithCredentials bool              `json:"withCredentials"`
	Headers         map[string]string `json:"headers"`
	ResponseType    string            `json:"responseType"`
}

// ProgressEvent is the triggering event of an onAjaxProgress call.
type ProgressEvent struct {
	Type             string `json:"type"`
	Loaded           int64  `json:"loaded"`
	LengthComputable bool   `json:"lengthComputable"`
	Total            int64  `json:"total"`
}

// Event is the payload of onAjaxReadyStateChange and onAjaxProgress: the
// request as captured plus a response snapshot.
type Event struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	IsAsync         bool              `json:"isAsync"`
	User            *string           `json:"user"`
	Password        *string           `json:"password"`
	WithCredentials bool              `json:"withCredentials"`
	Headers         map[string]string `json:"headers"`
	ReadyState      int               `json:"readyState"`
	Status          int               `json:"status"`
	ResponseURL     string            `json:"responseURL"`
	ResponseType    string            `json:"responseType"`
	// Response is a byte array, parsed JSON, HTML or text depending on
	// ResponseType.
	Response        json.RawMessage   `json:"response"`
	ResponseText    *string           `json:"responseText"`
	ResponseXML     *string           `json:"responseXML"`
	StatusText      string            `json:"statusText"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	Event           *ProgressEvent    `json:"event,omitempty"`
}

// Action is the directive field of a Decision.
type Action int

const (
	ActionAbort   Action = 0
	ActionProceed Action = 1
)

// Decision is the host answer to an interception call. Nil fields leave the
// captured value untouched.
type Decision struct {
	Action          *Action           `json:"action,omitempty"`
	Data            *Body             `json:"data,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	WithCredentials *bool             `json:"withCredentials,omitempty"`
	ResponseType    *string           `json:"responseType,omitempty"`
	Method          *string           `json:"method,omitempty"`
	URL             *string           `json:"url,omitempty"`
	IsAsync         *bool             `json:"isAsync,omitempty"`
	User            *string           `json:"user,omitempty"`
	Password        *string           `json:"password,omitempty"`
}

// Abort returns the decision that aborts the request.
func Abort() *Decision {
	a := ActionAbort
	return &Decision{Action: &a}
}

// Proceed returns an empty decision that lets the request through.
func Proceed() *Decision {
	a := ActionProceed
	return &Decision{Action: &a}
}

// IsAbort reports whether d aborts the request.
func (d *Decision) IsAbort() bool {
	return d != nil && d.Action != nil && *d.Action == ActionAbort
}

// Rewrites reports whether d changes anything about the request.
func (d *Decision) Rewrites() bool {
	if d == nil || d.IsAbort() {
		return false
	}
	return d.Data != nil || len(d.Headers) > 0 || d.WithCredentials != nil || d.ResponseType != nil ||
		d.Method != nil || d.URL != nil || d.IsAsync != nil || d.User != nil || d.Password != nil
}

// Reopens reports whether applying d to r aborts and re-opens the request.
func (d *Decision) Reopens(r *Request) bool {
	if d == nil || d.IsAbort() {
		return false
	}
	return (d.Method != nil && *d.Method != r.Method) ||
		(d.URL != nil && *d.URL != r.URL) ||
		(d.IsAsync != nil && *d.IsAsync != r.IsAsync) ||
		(d.User != nil && (r.User == nil || *d.User != *r.User)) ||
		(d.Password != nil && (r.Password == nil || *d.Password != *r.Password))
}

// Apply returns the request the page sends after d, following the
// page-side rules: overrides replace captured values, headers merge by
// comma-join, multipart byte bodies get a Content-Type when none is set and
// responseType only changes for asynchronous requests.
func (d *Decision) Apply(r Request) Request {
	if d == nil || d.IsAbort() {
		return r
	}
	headers := make(map[string]string, len(r.Headers)+len(d.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}

	extra := d.Headers
	if d.Data != nil && d.Data.Bytes != nil && len(d.Data.Bytes) > 0 {
		if body := d.Data.String(); IsMultipartBody(body) {
			if _, ok := extra["Content-Type"]; !ok {
				extra = copyHeaders(extra)
				extra["Content-Type"] = FormDataContentType(body)
			}
		}
	}

	// an empty byte array keeps the captured body
	if d.Data != nil && (d.Data.Bytes == nil || len(d.Data.Bytes) > 0) {
		r.Data = d.Data
	}
	if d.Method != nil {
		r.Method = *d.Method
	}
	if d.URL != nil {
		r.URL = *d.URL
	}
	if d.IsAsync != nil {
		r.IsAsync = *d.IsAsync
	}
	if d.User != nil {
		r.User = d.User
	}
	if d.Password != nil {
		r.Password = d.Password
	}
	if d.WithCredentials != nil {
		r.WithCredentials = *d.WithCredentials
	}
	if d.ResponseType != nil && r.IsAsync {
		r.ResponseType = *d.ResponseType
	}
	for k, v := range extra {
		MergeHeader(headers, k, v)
	}
	r.Headers = headers
	return r
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

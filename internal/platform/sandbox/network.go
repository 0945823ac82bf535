package sandbox

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// makeFetchFunc backs the prelude's XMLHttpRequest. It returns an object
// with status, statusText, headers, body, buffer and url, or one with an
// error field.
func (p *Page) makeFetchFunc(w *world) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		method := call.Argument(0).String()
		rawURL := call.Argument(1).String()

		if !p.cfg.EnableNetwork {
			return w.vm.ToValue(map[string]interface{}{"error": "network access is disabled"})
		}

		target, err := p.location.Parse(rawURL)
		if err != nil {
			return w.vm.ToValue(map[string]interface{}{"error": err.Error()})
		}

		headers := map[string]string{}
		if h := call.Argument(2).String(); h != "" {
			if err := sonic.UnmarshalString(h, &headers); err != nil {
				return w.vm.ToValue(map[string]interface{}{"error": err.Error()})
			}
		}

		req := p.http.R().SetHeaders(headers)
		if body := call.Argument(3); !goja.IsNull(body) && !goja.IsUndefined(body) {
			if call.Argument(4).ToBoolean() {
				req.SetBody(latin1Bytes(body.String()))
			} else {
				req.SetBody(body.String())
			}
		}
		if user := call.Argument(5).String(); user != "" && !goja.IsUndefined(call.Argument(5)) {
			req.SetBasicAuth(user, call.Argument(6).String())
		}

		resp, err := req.Execute(method, target.String())
		if err != nil {
			p.logger.Debug("Page request failed", zap.String("method", method), zap.String("url", target.String()), zap.Error(err))
			return w.vm.ToValue(map[string]interface{}{"error": err.Error()})
		}

		return w.vm.ToValue(map[string]interface{}{
			"status":     resp.StatusCode(),
			"statusText": http.StatusText(resp.StatusCode()),
			"headers":    headerBlob(resp.Header()),
			"body":       string(resp.Body()),
			"buffer":     w.vm.NewArrayBuffer(resp.Body()),
			"url":        target.String(),
		})
	}
}

// headerBlob formats headers the way getAllResponseHeaders does.
func headerBlob(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strings.ToLower(k))
		b.WriteString(": ")
		b.WriteString(strings.Join(h[k], ", "))
		b.WriteString("\r\n")
	}
	return b.String()
}

// latin1Bytes reverses the one-char-per-byte encoding the prelude uses for
// binary request bodies.
func latin1Bytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

func newHTTPClient(cfg Config) *resty.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return resty.New().
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
}

// locationFields mirrors window.location for u.
func locationFields(u *url.URL) map[string]interface{} {
	origin := "null"
	host := u.Host
	if u.Port() != "" && u.Port() == defaultPort(u.Scheme) {
		host = u.Hostname()
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
	}
	if u.Scheme != "" && host != "" {
		origin = u.Scheme + "://" + host
	}

	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}

	return map[string]interface{}{
		"href":     u.String(),
		"origin":   origin,
		"protocol": u.Scheme + ":",
		"host":     host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": u.EscapedPath(),
		"search":   search,
		"hash":     hash,
	}
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

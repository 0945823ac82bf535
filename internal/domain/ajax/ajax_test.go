package ajax

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestBodyJSON(t *testing.T) {
	out, err := sonic.Marshal(BytesBody([]byte{1, 2, 255}))
	require.NoError(t, err)
	assert.Equal(t, "[1,2,255]", string(out))

	out, err = sonic.Marshal(TextBody("hi"))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(out))

	var b Body
	require.NoError(t, json.Unmarshal([]byte(`[104,105]`), &b))
	assert.Equal(t, []byte("hi"), b.Bytes)
	assert.Equal(t, "hi", b.String())

	require.NoError(t, json.Unmarshal([]byte(`"text"`), &b))
	assert.Equal(t, "text", *b.Text)
	assert.Nil(t, b.Bytes)

	require.NoError(t, json.Unmarshal([]byte(`null`), &b))
	assert.True(t, b.IsNull())

	assert.ErrorIs(t, json.Unmarshal([]byte(`[256]`), &b), ErrInvalidBody)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{}`), &b), ErrInvalidBody)
}

func TestDecodeRequest(t *testing.T) {
	raw := `{"data":"a=1","method":"POST","url":"/api","isAsync":true,"withCredentials":false,
		"headers":{"X-A":"1"},"responseType":""}`
	var req Request
	require.NoError(t, sonic.UnmarshalString(raw, &req))

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "a=1", req.Data.String())
	assert.Nil(t, req.User)
	assert.Equal(t, map[string]string{"X-A": "1"}, req.Headers)
}

func TestDecisionJSON(t *testing.T) {
	out, err := sonic.Marshal(Abort())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":0}`, string(out))

	out, err = sonic.Marshal(&Decision{URL: strp("/new")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"/new"}`, string(out))
}

func TestParseResponseHeaders(t *testing.T) {
	assert.Empty(t, ParseResponseHeaders(""))
	assert.Empty(t, ParseResponseHeaders("  \r\n"))

	h := ParseResponseHeaders("content-type: text/html\r\nx-time: 10: 20\r\n\r\nbare\n")
	assert.Equal(t, map[string]string{
		"content-type": "text/html",
		"x-time":       "10: 20",
		"bare":         "",
	}, h)
}

func TestFormData(t *testing.T) {
	body := "------WebKitFormBoundaryAbCdEfGhIjKlMnOp\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\n1\r\n"
	assert.True(t, IsMultipartBody(body))
	assert.False(t, IsMultipartBody("a=1&b=2"))
	assert.Equal(t, "multipart/form-data; boundary="+body[2:42], FormDataContentType(body))
	assert.Equal(t, "multipart/form-data; boundary=bc", FormDataContentType("--bc"))
	assert.Equal(t, "multipart/form-data; boundary=", FormDataContentType("--"))
}

func TestMergeHeader(t *testing.T) {
	h := map[string]string{"Accept": "text/html"}
	MergeHeader(h, "Accept", "application/json")
	MergeHeader(h, "X-New", "1")
	assert.Equal(t, "text/html, application/json", h["Accept"])
	assert.Equal(t, "1", h["X-New"])
}

func TestDecisionApply(t *testing.T) {
	req := Request{
		Method:  "POST",
		URL:     "/old",
		IsAsync: true,
		Headers: map[string]string{"X-A": "1"},
		Data:    TextBody("payload"),
	}

	t.Run("url only keeps method", func(t *testing.T) {
		d := &Decision{URL: strp("/new")}
		assert.True(t, d.Reopens(&req))
		out := d.Apply(req)
		assert.Equal(t, "POST", out.Method)
		assert.Equal(t, "/new", out.URL)
		assert.Equal(t, "payload", out.Data.String())
	})

	t.Run("same values do not reopen", func(t *testing.T) {
		d := &Decision{URL: strp("/old"), Method: strp("POST")}
		assert.False(t, d.Reopens(&req))
	})

	t.Run("headers merge", func(t *testing.T) {
		out := (&Decision{Headers: map[string]string{"X-A": "2", "X-B": "3"}}).Apply(req)
		assert.Equal(t, map[string]string{"X-A": "1, 2", "X-B": "3"}, out.Headers)
		assert.Equal(t, map[string]string{"X-A": "1"}, req.Headers)
	})

	t.Run("multipart body gets content type", func(t *testing.T) {
		body := "------WebKitFormBoundary0123456789abcdef\r\n"
		out := (&Decision{Data: BytesBody([]byte(body))}).Apply(req)
		assert.Equal(t, FormDataContentType(body), out.Headers["Content-Type"])
	})

	t.Run("empty byte body keeps captured data", func(t *testing.T) {
		out := (&Decision{Data: BytesBody([]byte{})}).Apply(req)
		assert.Equal(t, "payload", out.Data.String())
	})

	t.Run("response type needs async", func(t *testing.T) {
		sync := req
		sync.IsAsync = false
		out := (&Decision{ResponseType: strp("json")}).Apply(sync)
		assert.Equal(t, "", out.ResponseType)
		out = (&Decision{ResponseType: strp("json")}).Apply(req)
		assert.Equal(t, "json", out.ResponseType)
	})

	t.Run("abort leaves request", func(t *testing.T) {
		assert.Equal(t, req, Abort().Apply(req))
		assert.True(t, Abort().IsAbort())
		assert.False(t, Abort().Rewrites())
		assert.False(t, Proceed().Rewrites())
	})
}

func TestInterceptorRules(t *testing.T) {
	i := NewInterceptor(nil, nil)
	require.NoError(t, i.AddRule(Rule{Name: "block-ads", URLGlob: "https://ads.example.com/**", Decision: Abort()}))
	require.NoError(t, i.AddRule(Rule{
		Name:     "tag-api",
		URLGlob:  "https://*/api/*",
		Methods:  []string{"post"},
		Headers:  map[string]string{"x-client": "web"},
		Decision: &Decision{Headers: map[string]string{"X-Tag": "1"}},
	}))
	require.NoError(t, i.AddRule(Rule{
		Name:       "dynamic",
		URLPattern: `/v1/`,
		Decide: func(ctx context.Context, req *Request) (*Decision, error) {
			u := req.URL + "?seen"
			return &Decision{URL: &u}, nil
		},
	}))
	assert.Equal(t, 3, i.Len())

	ctx := context.Background()

	d, err := i.Decide(ctx, &Request{Method: "GET", URL: "https://ads.example.com/x.js"})
	require.NoError(t, err)
	assert.True(t, d.IsAbort())

	d, err = i.Decide(ctx, &Request{Method: "POST", URL: "https://example.com/api/items", Headers: map[string]string{"X-Client": "web"}})
	require.NoError(t, err)
	assert.Equal(t, "1", d.Headers["X-Tag"])

	d, err = i.Decide(ctx, &Request{Method: "GET", URL: "https://example.com/api/items"})
	require.NoError(t, err)
	assert.Nil(t, d)

	// a single star does not cross path segments
	d, err = i.Decide(ctx, &Request{Method: "POST", URL: "https://example.com/api/items/7", Headers: map[string]string{"X-Client": "web"}})
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = i.Decide(ctx, &Request{Method: "GET", URL: "https://ads.example.com/a/b/c.js"})
	require.NoError(t, err)
	assert.True(t, d.IsAbort())

	d, err = i.Decide(ctx, &Request{Method: "GET", URL: "https://example.com/v1/items"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1/items?seen", *d.URL)

	assert.ErrorIs(t, i.AddRule(Rule{Name: "empty"}), ErrInvalidRule)
	assert.ErrorIs(t, i.AddRule(Rule{Name: "bad", URLPattern: "(", Decision: Abort()}), ErrInvalidRule)
	assert.ErrorIs(t, i.AddRule(Rule{Name: "bad-glob", URLGlob: "https://[a/*", Decision: Abort()}), ErrInvalidRule)
	assert.Equal(t, 3, i.Len())

	i.ClearRules()
	assert.Equal(t, 0, i.Len())
}

func TestRuleSpecs(t *testing.T) {
	i := NewInterceptor(nil, nil)
	err := i.LoadRules([]RuleSpec{
		{Name: "block", URL: "https://*/tracker*", Abort: true},
		{Name: "move", URLPattern: `^https://old\.example\.com/(.*)$`, Rewrite: &RewriteSpec{URL: "https://new.example.com/$1", Method: "PUT"}},
		{Name: "pass", URL: "**"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	d, err := i.Decide(ctx, &Request{URL: "https://example.com/tracker.js"})
	require.NoError(t, err)
	assert.True(t, d.IsAbort())

	d, err = i.Decide(ctx, &Request{URL: "https://old.example.com/a/b"})
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/a/b", *d.URL)
	assert.Equal(t, "PUT", *d.Method)

	d, err = i.Decide(ctx, &Request{URL: "https://other.com/"})
	require.NoError(t, err)
	assert.False(t, d.IsAbort())
	assert.False(t, d.Rewrites())

	err = i.LoadRules([]RuleSpec{{Name: "ok", URL: "**", Abort: true}, {Name: "both", Abort: true, Rewrite: &RewriteSpec{}}})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Equal(t, 3, i.Len())
}

func TestScripts(t *testing.T) {
	src, err := Source(Options{Name: "myBridge", UseOnAjaxProgress: true})
	require.NoError(t, err)
	assert.Contains(t, src, "window.myBridge._useShouldInterceptAjaxRequest = true;")
	assert.Contains(t, src, "window.myBridge._useOnAjaxReadyStateChange = false;")
	assert.Contains(t, src, "window.myBridge._useOnAjaxProgress = true;")
	assert.Contains(t, src, "bridge._networkInterceptor = interceptor;")
	assert.NotContains(t, src, "__BRIDGE__")

	s, err := Script(Options{})
	require.NoError(t, err)
	assert.Equal(t, GroupName, s.GroupName)
	assert.True(t, s.RequiredInAllContentWorlds)
	assert.True(t, s.Plugin)

	flag := OnlyAsyncScript(Options{}, false)
	assert.Equal(t, GroupName, flag.GroupName)
	assert.Equal(t, "window.flutter_inappwebview._interceptOnlyAsyncAjaxRequests = false;", flag.Source)

	_, err = Source(Options{Name: "not valid"})
	assert.Error(t, err)
}

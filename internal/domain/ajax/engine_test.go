package ajax_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/ajax"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/sandbox"
)

type decisions struct {
	mu       sync.Mutex
	outcomes []string
}

func (d *decisions) RecordAjaxDecision(handler, outcome string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, handler+":"+outcome)
}

func (d *decisions) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.outcomes...)
}

type engineFixture struct {
	page        *sandbox.Page
	interceptor *ajax.Interceptor
	recorder    *decisions
	hits        atomic.Int32
}

func newEngineFixture(t *testing.T, opts ajax.Options, extra ...script.InjectableScript) *engineFixture {
	t.Helper()
	f := &engineFixture{recorder: &decisions{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.Method + " " + r.URL.Path + " " + r.Header.Get("X-A") + " " + string(body)))
	}))
	t.Cleanup(srv.Close)

	cfg := sandbox.DefaultConfig()
	cfg.EnableNetwork = true
	page, err := sandbox.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { page.Close() })
	f.page = page

	dispatcher := bridge.NewDispatcher(bridge.Config{}, page, nil, nil)
	secret := bridge.NewSecret()
	dispatcher.SetSecret(secret)
	f.interceptor = ajax.NewInterceptor(nil, f.recorder)
	f.interceptor.Register(dispatcher)

	bridgeScript, err := bridge.Script(bridge.Options{Secret: secret, PostToHost: page.PostToHostSource()})
	require.NoError(t, err)
	engineScript, err := ajax.Script(opts)
	require.NoError(t, err)

	scripts := append([]script.InjectableScript{bridgeScript, engineScript}, extra...)
	require.NoError(t, page.AddMessageHandler(bridge.CallHandlerMessage, script.PageWorld))
	require.NoError(t, page.InstallScripts(context.Background(), scripts))

	page.OnHostMessage(func(ctx context.Context, msg platform.Message) {
		if msg.Name == bridge.CallHandlerMessage {
			_ = dispatcher.Dispatch(ctx, msg.Body, msg.World)
		}
	})
	require.NoError(t, page.Navigate(context.Background(), srv.URL+"/"))
	return f
}

func (f *engineFixture) eval(t *testing.T, src string) interface{} {
	t.Helper()
	v, err := f.page.EvaluateInPage(context.Background(), src, script.PageWorld)
	require.NoError(t, err)
	return v
}

const postOld = `
	window.result = null;
	var xhr = new XMLHttpRequest();
	xhr.open('POST', '/old');
	xhr.setRequestHeader('X-A', '1');
	xhr.onload = function() { window.result = xhr.responseText; };
	xhr.send('body');
`

func TestEngineWithoutRules(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})

	f.eval(t, postOld)

	assert.Equal(t, "POST /old 1 body", f.eval(t, "window.result"))
	assert.Equal(t, []string{"shouldInterceptAjaxRequest:proceed"}, f.recorder.list())
}

func TestEngineRewritesURLKeepingMethodAndHeaders(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})
	newURL := "/new"
	require.NoError(t, f.interceptor.AddRule(ajax.Rule{
		Name:     "move",
		URLGlob:  "/old",
		Decision: &ajax.Decision{URL: &newURL},
	}))

	f.eval(t, postOld)

	assert.Equal(t, "POST /new 1 body", f.eval(t, "window.result"))
	assert.Equal(t, []string{"shouldInterceptAjaxRequest:rewrite"}, f.recorder.list())
}

func TestEngineRewritesBody(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})
	var seen ajax.Request
	require.NoError(t, f.interceptor.AddRule(ajax.Rule{
		Name: "body",
		Decide: func(ctx context.Context, req *ajax.Request) (*ajax.Decision, error) {
			seen = *req
			return &ajax.Decision{Data: ajax.TextBody("changed"), Headers: map[string]string{"X-A": "2"}}, nil
		},
	}))

	f.eval(t, postOld)

	assert.Equal(t, "POST /old 1, 2 changed", f.eval(t, "window.result"))
	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "/old", seen.URL)
	assert.True(t, seen.IsAsync)
	assert.Equal(t, "body", seen.Data.String())
	assert.Equal(t, map[string]string{"X-A": "1"}, seen.Headers)
}

func TestEngineAborts(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})
	require.NoError(t, f.interceptor.AddRule(ajax.Rule{Name: "block", Decision: ajax.Abort()}))

	f.eval(t, postOld)

	assert.Nil(t, f.eval(t, "window.result"))
	assert.Equal(t, int32(0), f.hits.Load())
	assert.Equal(t, []string{"shouldInterceptAjaxRequest:abort"}, f.recorder.list())
}

func TestEngineFailsOpenOnHandlerError(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})
	require.NoError(t, f.interceptor.AddRule(ajax.Rule{
		Name: "broken",
		Decide: func(ctx context.Context, req *ajax.Request) (*ajax.Decision, error) {
			return nil, assert.AnError
		},
	}))

	f.eval(t, postOld)

	assert.Equal(t, "POST /old 1 body", f.eval(t, "window.result"))
	var logged []string
	for _, e := range f.page.Console() {
		if e.Level == "error" && strings.Contains(e.Message, ajax.ShouldInterceptAjaxRequest) {
			logged = append(logged, e.Message)
		}
	}
	assert.Len(t, logged, 1)
}

func TestEngineDisabledFlagSkipsHost(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{})
	f.eval(t, ajax.FlagScript(bridge.DefaultName, ajax.FlagShouldInterceptAjaxRequest, false))

	f.eval(t, postOld)

	assert.Equal(t, "POST /old 1 body", f.eval(t, "window.result"))
	assert.Empty(t, f.recorder.list())
}

func TestEngineSyncRequests(t *testing.T) {
	const syncGet = `
		var xhr = new XMLHttpRequest();
		xhr.open('GET', '/sync', false);
		xhr.send();
	`

	t.Run("skipped by default", func(t *testing.T) {
		f := newEngineFixture(t, ajax.Options{})
		f.eval(t, syncGet)
		assert.Empty(t, f.recorder.list())
	})

	t.Run("intercepted when only-async is off", func(t *testing.T) {
		f := newEngineFixture(t, ajax.Options{}, ajax.OnlyAsyncScript(ajax.Options{}, false))
		f.eval(t, syncGet)
		assert.Equal(t, []string{"shouldInterceptAjaxRequest:proceed"}, f.recorder.list())
	})
}

func TestEngineWrapsOncePerInstance(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{UseOnAjaxReadyStateChange: true, UseOnAjaxProgress: true})

	got := f.eval(t, `
		var xhr = new XMLHttpRequest();
		xhr.onreadystatechange = function() {};
		xhr.open('GET', '/a');
		xhr.send();
		var first = xhr.onreadystatechange;
		xhr.open('GET', '/b');
		xhr.send();
		first === xhr.onreadystatechange;
	`)
	assert.Equal(t, true, got)
	assert.Equal(t, int64(1), f.eval(t, `Object.getOwnPropertyNames(xhr).filter(function(k) {
		return k.indexOf('ajaxState') >= 0;
	}).length`))
}

func TestEngineObservers(t *testing.T) {
	f := newEngineFixture(t, ajax.Options{UseOnAjaxReadyStateChange: true, UseOnAjaxProgress: true})

	var mu sync.Mutex
	var states []int
	var progress []string
	var last ajax.Event
	f.interceptor.OnReadyStateChange(func(ctx context.Context, ev *ajax.Event) (*ajax.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.ReadyState)
		if ev.ReadyState == 4 {
			last = *ev
		}
		return nil, nil
	})
	f.interceptor.OnProgress(func(ctx context.Context, ev *ajax.Event) (*ajax.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, ev.Event.Type)
		return nil, nil
	})

	f.eval(t, `
		var seen = [];
		var xhr = new XMLHttpRequest();
		xhr.open('POST', '/observe');
		xhr.onreadystatechange = function() { seen.push(xhr.readyState); };
		xhr.send('x');
	`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 3, 4}, states)
	assert.Contains(t, progress, "loadstart")
	assert.Contains(t, progress, "load")
	assert.Contains(t, progress, "loadend")
	assert.Equal(t, 200, last.Status)
	assert.Equal(t, "POST", last.Method)
	assert.Equal(t, "/observe", last.URL)
	require.NotNil(t, last.ResponseText)
	assert.Equal(t, "POST /observe  x", *last.ResponseText)
	assert.Equal(t, "text/plain", last.ResponseHeaders["content-type"])
	// the page handler runs once per change, after the host answered
	assert.Equal(t, int64(3), f.eval(t, "seen.length"))
}

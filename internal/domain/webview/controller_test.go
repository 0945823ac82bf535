package webview_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/ajax"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/observer"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webmessage"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/sandbox"
)

const pageURL = "https://example.com/app"

type consoleEvents struct {
	observer.NopEvents
	mu       sync.Mutex
	messages []string
}

func (c *consoleEvents) OnConsoleMessage(_ context.Context, msg observer.ConsoleMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, string(msg.Level)+":"+msg.Message)
	c.mu.Unlock()
}

func newController(t *testing.T, settings webview.Settings, opts webview.Options) (*webview.Controller, *sandbox.Page) {
	t.Helper()
	page, err := sandbox.New(sandbox.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { page.Close() })

	c, err := webview.New(page, settings, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(context.Background()) })
	return c, page
}

func eval(t *testing.T, page *sandbox.Page, src string) interface{} {
	t.Helper()
	v, err := page.EvaluateInPage(context.Background(), src, script.PageWorld)
	require.NoError(t, err)
	return v
}

func groups(scripts []script.InjectableScript) []string {
	out := make([]string, len(scripts))
	for i, s := range scripts {
		out[i] = s.GroupName
	}
	return out
}

func TestPrepareScriptsOrder(t *testing.T) {
	ctx := context.Background()
	settings := webview.DefaultSettings()
	settings.UseShouldInterceptAjaxRequest = true
	settings.SupportZoom = false
	settings.UserScripts = []webview.UserScript{{GroupName: "user", Source: "window.user = true;"}}
	windowID := int64(3)

	c, _ := newController(t, settings, webview.Options{WindowID: &windowID})
	l, err := webmessage.NewListener("myObj", []string{"*"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.AddWebMessageListener(ctx, l))
	require.NoError(t, c.PrepareScripts(ctx))

	start := groups(c.Registry().ScriptsFor(script.MainFrame, script.AtDocumentStart))
	assert.Equal(t, []string{
		bridge.WindowIDGroupName,
		bridge.GroupName,
		observer.ConsoleGroupName,
		observer.PrintGroupName,
		observer.FocusGroupName,
		observer.BlurGroupName,
		observer.LastTouchedGroupName,
		ajax.GroupName,
		ajax.GroupName,
		webmessage.ListenerGroupPrefix + "myObj",
		"user",
	}, start)

	end := groups(c.Registry().ScriptsFor(script.MainFrame, script.AtDocumentEnd))
	assert.Equal(t, []string{observer.ViewportGroupName, observer.NotSupportZoomGroupName}, end)
}

func TestPrepareScriptsMinimal(t *testing.T) {
	settings := webview.DefaultSettings()
	settings.JavaScriptBridgeEnabled = false

	c, _ := newController(t, settings, webview.Options{})
	require.NoError(t, c.PrepareScripts(context.Background()))

	assert.False(t, c.Registry().Contains(bridge.GroupName))
	assert.False(t, c.Registry().Contains(bridge.WindowIDGroupName))
	assert.False(t, c.Registry().Contains(ajax.GroupName))
	assert.False(t, c.Registry().Contains(observer.NotSupportZoomGroupName))
	assert.True(t, c.Registry().Contains(observer.ConsoleGroupName))
}

func TestControllerBridgeRoundTrip(t *testing.T) {
	ctx := context.Background()
	events := &consoleEvents{}
	c, page := newController(t, webview.DefaultSettings(), webview.Options{Events: events})

	c.Dispatcher().Handle("sum", func(_ context.Context, call *bridge.Call) (interface{}, error) {
		var a, b int
		if err := call.Arg(0, &a); err != nil {
			return nil, err
		}
		if err := call.Arg(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	require.NoError(t, c.PrepareScripts(ctx))
	require.NoError(t, page.Navigate(ctx, pageURL))

	eval(t, page, `
		window.total = null;
		window.flutter_inappwebview.callHandler('sum', 2, 3).then(function(v) { window.total = v; });
	`)
	assert.EqualValues(t, 5, eval(t, page, "window.total"))

	eval(t, page, "console.info('ready', 1);")
	assert.Equal(t, []string{"info:ready 1"}, events.messages)
}

func TestControllerReloadRotatesSecret(t *testing.T) {
	ctx := context.Background()
	c, page := newController(t, webview.DefaultSettings(), webview.Options{})
	calls := 0
	c.Dispatcher().Handle("ping", func(context.Context, *bridge.Call) (interface{}, error) {
		calls++
		return "pong", nil
	})

	require.NoError(t, c.PrepareScripts(ctx))
	require.NoError(t, page.Navigate(ctx, pageURL))
	first := c.Dispatcher().Secret()

	channel, err := c.Messages().CreateChannel(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Reload(ctx))
	assert.NotEqual(t, first, c.Dispatcher().Secret())
	assert.Equal(t, 0, c.Messages().Len())
	assert.True(t, channel.Port1().IsClosed())

	// The old document still carries the previous secret.
	eval(t, page, "window.flutter_inappwebview.callHandler('ping');")
	assert.Equal(t, 0, calls)

	require.NoError(t, page.Navigate(ctx, pageURL))
	eval(t, page, "window.flutter_inappwebview.callHandler('ping');")
	assert.Equal(t, 1, calls)
}

func TestControllerHandlerOriginAllowList(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		wantCalls int
		wantErr   string
	}{
		{name: "every origin", allowList: nil, wantCalls: 1},
		{name: "page origin listed", allowList: []string{"https://example.com"}, wantCalls: 1},
		{name: "page origin not listed", allowList: []string{"https://other.com"}, wantErr: "not allowed for this origin"},
		{name: "empty list", allowList: []string{}, wantErr: "not allowed for this origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			settings := webview.DefaultSettings()
			settings.JavaScriptHandlersOriginAllowList = tt.allowList
			c, page := newController(t, settings, webview.Options{})
			calls := 0
			c.Dispatcher().Handle("ping", func(context.Context, *bridge.Call) (interface{}, error) {
				calls++
				return "pong", nil
			})
			require.NoError(t, c.PrepareScripts(ctx))
			require.NoError(t, page.Navigate(ctx, pageURL))

			eval(t, page, `
				window.callErr = null;
				window.flutter_inappwebview.callHandler('ping').catch(function(e) { window.callErr = e.message; });
			`)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == "" {
				assert.Nil(t, eval(t, page, "window.callErr"))
			} else {
				assert.Contains(t, eval(t, page, "window.callErr"), tt.wantErr)
			}
		})
	}
}

func TestControllerPluginScriptsOriginAllowList(t *testing.T) {
	ctx := context.Background()
	settings := webview.DefaultSettings()
	settings.UseShouldInterceptAjaxRequest = true
	settings.PluginScriptsOriginAllowList = []string{"https://other.com"}
	settings.PluginScriptsForMainFrameOnly = true
	events := &consoleEvents{}
	c, page := newController(t, settings, webview.Options{Events: events})
	require.NoError(t, c.PrepareScripts(ctx))

	want := []origin.Rule{origin.MustParse("https://other.com")}
	for _, s := range c.Registry().All() {
		if s.GroupName == bridge.GroupName {
			assert.Nil(t, s.AllowedOriginRules, "bridge keeps its own allow list")
			continue
		}
		assert.Equal(t, want, s.AllowedOriginRules, s.GroupName)
		assert.True(t, s.ForMainFrameOnly, s.GroupName)
	}

	require.NoError(t, page.Navigate(ctx, pageURL))
	assert.Equal(t, true, eval(t, page, "window.flutter_inappwebview.callHandler != null"))
	eval(t, page, "console.info('hidden');")
	assert.Empty(t, events.messages)

	require.NoError(t, c.SetSupportZoom(ctx, false))
	for _, s := range c.Registry().All() {
		if s.GroupName == observer.NotSupportZoomGroupName {
			assert.Equal(t, want, s.AllowedOriginRules)
		}
	}
}

func TestControllerAjaxAtRuntime(t *testing.T) {
	ctx := context.Background()
	c, page := newController(t, webview.DefaultSettings(), webview.Options{})
	require.NoError(t, c.PrepareScripts(ctx))
	require.NoError(t, page.Navigate(ctx, pageURL))

	installed := "window.flutter_inappwebview._networkInterceptor != null"
	flag := "window.flutter_inappwebview._useShouldInterceptAjaxRequest"
	assert.Equal(t, false, eval(t, page, installed))

	require.NoError(t, c.SetUseShouldInterceptAjaxRequest(ctx, true))
	assert.Equal(t, true, eval(t, page, installed))
	assert.Equal(t, true, eval(t, page, flag))
	assert.True(t, c.Registry().Contains(ajax.GroupName))
	assert.True(t, c.Settings().UseShouldInterceptAjaxRequest)

	require.NoError(t, c.SetUseShouldInterceptAjaxRequest(ctx, false))
	assert.Equal(t, false, eval(t, page, flag))
	assert.False(t, c.Registry().Contains(ajax.GroupName))

	require.NoError(t, c.SetUseShouldInterceptAjaxRequest(ctx, true))
	assert.Equal(t, true, eval(t, page, flag))
	assert.True(t, c.Registry().Contains(ajax.GroupName))
}

func TestControllerSupportZoom(t *testing.T) {
	ctx := context.Background()
	settings := webview.DefaultSettings()
	settings.UserScripts = []webview.UserScript{{
		GroupName: "viewport",
		Source: `var meta = document.createElement('meta');
			meta.setAttribute('name', 'viewport');
			meta.setAttribute('content', 'width=320');
			document.head.appendChild(meta);`,
	}}
	c, page := newController(t, settings, webview.Options{})
	require.NoError(t, c.PrepareScripts(ctx))
	require.NoError(t, page.Navigate(ctx, pageURL))

	content := "document.head.getElementsByTagName('meta')[0].content"
	assert.Equal(t, "width=320", eval(t, page, content))

	require.NoError(t, c.SetSupportZoom(ctx, false))
	assert.Equal(t, observer.NotSupportZoomContent, eval(t, page, content))
	assert.True(t, c.Registry().Contains(observer.NotSupportZoomGroupName))

	require.NoError(t, c.SetSupportZoom(ctx, true))
	assert.Equal(t, "width=320", eval(t, page, content))
	assert.False(t, c.Registry().Contains(observer.NotSupportZoomGroupName))
}

func TestControllerUserScripts(t *testing.T) {
	ctx := context.Background()
	c, page := newController(t, webview.DefaultSettings(), webview.Options{})
	require.NoError(t, c.PrepareScripts(ctx))

	require.NoError(t, c.AddUserScript(ctx, script.InjectableScript{GroupName: "marks", Source: "window.mark = 'a';"}))
	require.NoError(t, c.AddUserScript(ctx, script.InjectableScript{GroupName: "marks", Source: "window.mark += 'b';"}))
	require.NoError(t, page.Navigate(ctx, pageURL))
	assert.Equal(t, "ab", eval(t, page, "window.mark"))

	require.NoError(t, c.RemoveUserScriptsByGroup(ctx, "marks"))
	require.NoError(t, page.Navigate(ctx, pageURL))
	assert.Equal(t, "undefined", eval(t, page, "typeof window.mark"))
	assert.False(t, c.Registry().Contains("marks"))
}

func TestControllerWebMessages(t *testing.T) {
	ctx := context.Background()
	c, page := newController(t, webview.DefaultSettings(), webview.Options{})

	var got []string
	l, err := webmessage.NewListener("hostObj", []string{"https://example.com"},
		func(ctx context.Context, msg *webmessage.Message, sourceOrigin string, _ bool, reply *webmessage.ReplyProxy) {
			got = append(got, sourceOrigin+" "+msg.Data)
			_ = reply.PostMessage(ctx, webmessage.StringMessage("ack"))
		})
	require.NoError(t, err)
	require.NoError(t, c.AddWebMessageListener(ctx, l))
	require.NoError(t, c.PrepareScripts(ctx))
	require.NoError(t, page.Navigate(ctx, pageURL))

	eval(t, page, `
		window.acks = [];
		hostObj.onmessage = function(e) { window.acks.push(e.data); };
		hostObj.postMessage('hello');
	`)
	assert.Equal(t, []string{"https://example.com hello"}, got)
	assert.Equal(t, "ack", eval(t, page, "window.acks.join(',')"))

	channel, err := c.Messages().CreateChannel(ctx)
	require.NoError(t, err)
	var received []string
	require.NoError(t, channel.Port1().SetWebMessageCallback(ctx, func(_ context.Context, msg *webmessage.Message) {
		received = append(received, msg.Data)
	}))
	eval(t, page, webmessage.ChannelsVar(c.Name())+"['"+channel.ID()+"'].port2.postMessage('via port');")
	assert.Equal(t, []string{"via port"}, received)
}

func TestControllerHandleMessage(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, webview.DefaultSettings(), webview.Options{})

	err := c.HandleMessage(ctx, platform.Message{Name: "nope"})
	assert.ErrorIs(t, err, webview.ErrUnknownMessage)

	err = c.HandleMessage(ctx, platform.Message{Name: bridge.CallHandlerMessage, Body: []byte("{")})
	assert.Error(t, err)

	c.Dispose(ctx)
	err = c.HandleMessage(ctx, platform.Message{Name: bridge.CallHandlerMessage})
	assert.ErrorIs(t, err, webview.ErrDisposed)
	assert.ErrorIs(t, c.PrepareScripts(ctx), webview.ErrDisposed)
	assert.Empty(t, c.Registry().All())
}

func TestNewRejectsInvalidInput(t *testing.T) {
	page, err := sandbox.New(sandbox.DefaultConfig(), nil)
	require.NoError(t, err)
	defer page.Close()

	_, err = webview.New(page, webview.DefaultSettings(), webview.Options{Name: "bad-name"})
	assert.ErrorIs(t, err, bridge.ErrInvalidBridgeName)

	settings := webview.DefaultSettings()
	settings.JavaScriptBridgeOriginAllowList = []string{"nope"}
	_, err = webview.New(page, settings, webview.Options{})
	assert.Error(t, err)

	settings = webview.DefaultSettings()
	settings.JavaScriptHandlersOriginAllowList = []string{"https://a.*.com"}
	_, err = webview.New(page, settings, webview.Options{})
	assert.Error(t, err)

	settings = webview.DefaultSettings()
	settings.PluginScriptsOriginAllowList = []string{"nope"}
	_, err = webview.New(page, settings, webview.Options{})
	assert.Error(t, err)
}

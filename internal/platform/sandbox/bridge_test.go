package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
)

type bridgeFixture struct {
	page       *Page
	dispatcher *bridge.Dispatcher

	mu   sync.Mutex
	errs []error
	drop bool
}

func newBridgeFixture(t *testing.T, kind platform.Kind, opts bridge.Options) *bridgeFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Kind = kind
	page, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { page.Close() })

	f := &bridgeFixture{page: page}
	f.dispatcher = bridge.NewDispatcher(bridge.Config{Name: opts.Name}, page, nil, nil)
	opts.Secret = bridge.NewSecret()
	opts.PostToHost = page.PostToHostSource()
	f.dispatcher.SetSecret(opts.Secret)

	s, err := bridge.Script(opts)
	require.NoError(t, err)
	require.NoError(t, page.AddMessageHandler(bridge.CallHandlerMessage, script.PageWorld))
	require.NoError(t, page.InstallScripts(context.Background(), []script.InjectableScript{s}))

	page.OnHostMessage(func(ctx context.Context, msg platform.Message) {
		f.mu.Lock()
		drop := f.drop
		f.mu.Unlock()
		if drop || msg.Name != bridge.CallHandlerMessage {
			return
		}
		if err := f.dispatcher.Dispatch(ctx, msg.Body, msg.World); err != nil {
			f.mu.Lock()
			f.errs = append(f.errs, err)
			f.mu.Unlock()
		}
	})
	return f
}

func TestBridgeRoundTrip(t *testing.T) {
	for _, kind := range []platform.Kind{platform.KindContentWorlds, platform.KindLegacy} {
		t.Run(kind.String(), func(t *testing.T) {
			f := newBridgeFixture(t, kind, bridge.Options{})

			var got *bridge.Call
			f.dispatcher.Handle("foo", func(ctx context.Context, call *bridge.Call) (interface{}, error) {
				got = call
				return map[string]string{"result": "bar"}, nil
			})
			require.NoError(t, f.page.Navigate(context.Background(), "https://example.com/app"))

			eval(t, f.page, `
				var out = {};
				window.flutter_inappwebview.callHandler('foo', 1, 2).then(function(v) { out.value = v; });
			`)

			require.NotNil(t, got)
			assert.Equal(t, "[1,2]", got.Args)
			assert.Equal(t, "https://example.com", got.Origin)
			assert.Equal(t, "https://example.com/app", got.RequestURL)
			assert.True(t, got.IsMainFrame)
			assert.Equal(t, "bar", eval(t, f.page, "out.value.result"))
			assert.Equal(t, int64(0), eval(t, f.page, "Object.keys(window.flutter_inappwebview._pending).length"))
		})
	}
}

func TestBridgeHandlerErrorRejects(t *testing.T) {
	f := newBridgeFixture(t, platform.KindContentWorlds, bridge.Options{})
	f.dispatcher.Handle("fail", func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		return nil, assert.AnError
	})
	require.NoError(t, f.page.Navigate(context.Background(), "https://example.com/"))

	eval(t, f.page, `
		var failure = null;
		window.flutter_inappwebview.callHandler('fail').catch(function(e) { failure = e.message; });
	`)
	assert.Equal(t, assert.AnError.Error(), eval(t, f.page, "failure"))
}

func TestBridgeRejectsForgedSecret(t *testing.T) {
	f := newBridgeFixture(t, platform.KindContentWorlds, bridge.Options{})
	called := false
	f.dispatcher.Handle("foo", func(ctx context.Context, call *bridge.Call) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, f.page.Navigate(context.Background(), "https://example.com/"))

	eval(t, f.page, `window.webkit.messageHandlers.callHandler.postMessage({
		handlerName: 'foo', _callHandlerID: 1, _bridgeSecret: 'guess', args: '[]'
	});`)

	assert.False(t, called)
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], bridge.ErrInvalidSecret)
}

func TestBridgePageTimeout(t *testing.T) {
	f := newBridgeFixture(t, platform.KindContentWorlds, bridge.Options{CallTimeout: time.Second})
	f.drop = true
	require.NoError(t, f.page.Navigate(context.Background(), "https://example.com/"))

	eval(t, f.page, `
		var failure = null;
		window.flutter_inappwebview.callHandler('never').catch(function(e) { failure = e.message; });
	`)

	f.page.Advance(context.Background(), 999*time.Millisecond)
	assert.Nil(t, eval(t, f.page, "failure"))

	f.page.Advance(context.Background(), time.Millisecond)
	assert.Contains(t, eval(t, f.page, "failure"), "timed out")
	assert.Equal(t, int64(0), eval(t, f.page, "Object.keys(window.flutter_inappwebview._pending).length"))
}

func TestBridgeOriginGuard(t *testing.T) {
	f := newBridgeFixture(t, platform.KindContentWorlds, bridge.Options{
		AllowedOriginRules: []origin.Rule{origin.MustParse("https://*.example.com")},
	})

	require.NoError(t, f.page.Navigate(context.Background(), "https://app.example.com/"))
	assert.Equal(t, "function", eval(t, f.page, "typeof window.flutter_inappwebview.callHandler"))

	require.NoError(t, f.page.Navigate(context.Background(), "https://evil.com/"))
	assert.Equal(t, "undefined", eval(t, f.page, "typeof window.flutter_inappwebview"))
}

func TestBridgeIsIdempotent(t *testing.T) {
	f := newBridgeFixture(t, platform.KindContentWorlds, bridge.Options{Name: "myBridge"})
	require.NoError(t, f.page.Navigate(context.Background(), "https://example.com/"))

	eval(t, f.page, "var original = window.myBridge.callHandler;")
	src, err := bridge.Source(bridge.Options{Name: "myBridge", Secret: "other", PostToHost: f.page.PostToHostSource()})
	require.NoError(t, err)
	eval(t, f.page, src)

	assert.Equal(t, true, eval(t, f.page, "original === window.myBridge.callHandler"))
}

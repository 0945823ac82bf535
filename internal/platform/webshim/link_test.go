package webshim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/resilience"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform"
)

// fakePage plays the framed page end of a link.
type fakePage struct {
	t    *testing.T
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *fakePage) send(f Frame) {
	data, err := sonic.Marshal(f)
	require.NoError(p.t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, data))
}

func (p *fakePage) next() Frame {
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	var f Frame
	require.NoError(p.t, sonic.Unmarshal(data, &f))
	return f
}

// answer replies to evaluate frames with reply until the connection
// closes.
func (p *fakePage) answer(reply func(f Frame) Frame) {
	go func() {
		for {
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if sonic.Unmarshal(data, &f) == nil && f.Type == FrameEvaluate {
				p.send(reply(f))
			}
		}
	}()
}

func newLinkPair(t *testing.T, cfg Config) (*Link, *fakePage) {
	t.Helper()
	link := NewLink(cfg, nil, nil)
	upgrader := websocket.Upgrader{}
	served := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		close(served)
		_ = link.Serve(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = link.Close() })

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	<-served
	require.Eventually(t, link.Connected, time.Second, 5*time.Millisecond)
	return link, &fakePage{t: t, conn: conn}
}

func TestLinkEvaluate(t *testing.T) {
	link, page := newLinkPair(t, Config{LinkPath: "/shim/p1/link"})
	page.answer(func(f Frame) Frame {
		if f.Source == "throw" {
			return Frame{Type: FrameResult, ID: f.ID, Error: "ReferenceError: boom"}
		}
		return Frame{Type: FrameResult, ID: f.ID, Value: f.Source + "!"}
	})

	ctx := context.Background()
	v, err := link.EvaluateInPage(ctx, "ping", script.PageWorld)
	require.NoError(t, err)
	assert.Equal(t, "ping!", v)

	_, err = link.EvaluateInPage(ctx, "throw", script.World("tools"))
	assert.ErrorIs(t, err, platform.ErrEvaluationFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, resilience.StateClosed, link.Breaker().State())
}

func TestLinkEvaluateTimeoutTripsBreaker(t *testing.T) {
	link, _ := newLinkPair(t, Config{
		EvalTimeout: 20 * time.Millisecond,
		Breaker:     resilience.Settings{MaxFailures: 2, Timeout: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := link.EvaluateInPage(ctx, "slow", script.PageWorld)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	_, err := link.EvaluateInPage(ctx, "slow", script.PageWorld)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestLinkMessages(t *testing.T) {
	link, page := newLinkPair(t, Config{})
	require.NoError(t, link.AddMessageHandler("callHandler", script.PageWorld))

	_, err := link.Render(&Document{URL: "https://example.com/app", HTML: "<html></html>"})
	require.NoError(t, err)

	received := make(chan platform.Message, 4)
	link.OnHostMessage(func(_ context.Context, msg platform.Message) {
		received <- msg
	})

	page.send(Frame{Type: FrameMessage, Name: "unknown", Body: `{"a":1}`})
	page.send(Frame{Type: FrameMessage, Name: "callHandler", Body: `{"handlerName":"x"}`})

	select {
	case msg := <-received:
		assert.Equal(t, "callHandler", msg.Name)
		assert.JSONEq(t, `{"handlerName":"x"}`, string(msg.Body))
		assert.Equal(t, "https://example.com/app", msg.Frame.URL)
		assert.True(t, msg.Frame.IsMainFrame)
		assert.Equal(t, script.PageWorld, msg.World)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Empty(t, received)
}

func TestLinkHandlerMayEvaluate(t *testing.T) {
	link, page := newLinkPair(t, Config{})
	require.NoError(t, link.AddMessageHandler("callHandler", script.PageWorld))
	page.answer(func(f Frame) Frame {
		return Frame{Type: FrameResult, ID: f.ID, Value: true}
	})

	done := make(chan interface{}, 1)
	link.OnHostMessage(func(ctx context.Context, _ platform.Message) {
		v, err := link.EvaluateInPage(ctx, "resolve()", script.PageWorld)
		assert.NoError(t, err)
		done <- v
	})

	page.send(Frame{Type: FrameMessage, Name: "callHandler", Body: "{}"})
	select {
	case v := <-done:
		assert.Equal(t, true, v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler evaluation did not complete")
	}
}

func TestLinkNotConnectedAndClosed(t *testing.T) {
	link := NewLink(Config{}, nil, nil)
	ctx := context.Background()

	_, err := link.EvaluateInPage(ctx, "1", script.PageWorld)
	assert.ErrorIs(t, err, platform.ErrNotLoaded)
	assert.Equal(t, platform.KindWebShim, link.Kind())
	assert.Equal(t, PostToHost, link.PostToHostSource())

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	_, err = link.EvaluateInPage(ctx, "1", script.PageWorld)
	assert.ErrorIs(t, err, platform.ErrClosed)
	assert.ErrorIs(t, link.InstallScripts(ctx, nil), platform.ErrClosed)
	assert.ErrorIs(t, link.AddMessageHandler("x", script.PageWorld), platform.ErrClosed)
}

func TestLinkRender(t *testing.T) {
	link := NewLink(Config{LinkPath: "/shim/p1/link"}, nil, nil)
	defer link.Close()

	require.NoError(t, link.InstallScripts(context.Background(), []script.InjectableScript{
		{GroupName: "start", Source: "var started = true;"},
		{GroupName: "end", Source: "var ended = true;", InjectionTime: script.AtDocumentEnd},
	}))

	out, err := link.Render(&Document{
		URL:  "https://example.com/",
		HTML: "<html><head></head><body><p>x</p></body></html>",
	})
	require.NoError(t, err)

	assert.Contains(t, out, `"/shim/p1/link"`)
	assert.Contains(t, out, `url: "https://example.com/"`)
	assert.Less(t, strings.Index(out, "__webShimLink"), strings.Index(out, "var started = true;"))
	assert.Less(t, strings.Index(out, "<p>x</p>"), strings.Index(out, "var ended = true;"))
}

func TestLinkDisconnectFailsPending(t *testing.T) {
	link, page := newLinkPair(t, Config{EvalTimeout: time.Second})

	errs := make(chan error, 1)
	go func() {
		_, err := link.EvaluateInPage(context.Background(), "pending", script.PageWorld)
		errs <- err
	}()
	assert.Equal(t, FrameEvaluate, page.next().Type)

	require.NoError(t, page.conn.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, platform.ErrNotLoaded)
	case <-time.After(2 * time.Second):
		t.Fatal("pending evaluation not failed")
	}
}

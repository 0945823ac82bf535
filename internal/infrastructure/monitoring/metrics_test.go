package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/webview"
)

var _ webview.Recorder = (*Metrics)(nil)

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBridgeCall("sum", "ok", 20*time.Millisecond)
	m.RecordBridgeCall("sum", "timeout", 40*time.Millisecond)
	m.RecordAjaxDecision("shouldInterceptAjaxRequest", "abort")
	m.RecordWebMessage("post", "ok")
	m.RecordWebMessage("post", "ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeCalls.WithLabelValues("sum", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeCalls.WithLabelValues("sum", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AjaxDecisions.WithLabelValues("shouldInterceptAjaxRequest", "abort")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebMessages.WithLabelValues("post", "ok")))

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.BridgeCalls)
	assert.Equal(t, int64(1), s.BridgeFailures)
	assert.InDelta(t, 30.0, s.AvgBridgeMillis, 0.001)
	assert.Equal(t, int64(1), s.AjaxDecisions)
	assert.Equal(t, int64(2), s.WebMessages)
}

func TestPagesAndLinks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.PageOpened()
	m.PageOpened()
	m.PageClosed()
	m.LinkConnected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinksActive))

	m.LinkClosed()
	s := m.Snapshot()
	assert.Equal(t, int64(1), s.ActivePages)
	assert.Equal(t, int64(0), s.ActiveLinks)
}

func TestTimer(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	NewTimer(m, "sandbox").Stop("ok")
	NewTimer(nil, "sandbox").Stop("ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("sandbox", "ok")))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/pages/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/pages/a", "/pages/b", "/missing"} {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)
		router.ServeHTTP(w, req)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/pages/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(1), s.TotalErrors)
}

package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Requests are
// labeled by route template so page ids do not explode cardinality.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a script evaluation.
type Timer struct {
	start   time.Time
	metrics *Metrics
	adapter string
}

// NewTimer starts a timer for adapter.
func NewTimer(metrics *Metrics, adapter string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		adapter: adapter,
	}
}

// Stop records the evaluation with status.
func (t *Timer) Stop(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordEvaluation(t.adapter, status, time.Since(t.start))
}

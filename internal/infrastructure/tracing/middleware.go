package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a span per request, continuing the caller's trace
// when X-Trace-ID is present.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.Resume(c.Request.Context(), c.Request.Method+" "+name,
			c.GetHeader(TraceHeader), c.GetHeader(SpanHeader))
		span.SetAttr("http.method", c.Request.Method)
		span.SetAttr("http.path", c.Request.URL.Path)
		if pageID := c.Param("id"); pageID != "" {
			span.SetAttr("page_id", pageID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, span.TraceID)
		c.Header(SpanHeader, span.SpanID)

		c.Next()

		span.Status = c.Writer.Status()
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		tracer.Finish(span, err)
	}
}

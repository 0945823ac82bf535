package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/infrastructure/tracing"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/webshim"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// ShimFramePath is where a shim page is served to a real browser.
func ShimFramePath(pageID id.PageID) string {
	return "/shim/" + pageID.String()
}

// ShimLinkPath is the websocket path the served document connects back to.
func ShimLinkPath(pageID id.PageID) string {
	return ShimFramePath(pageID) + "/link"
}

// ShimFrame fetches the page url, prepares a fresh script set and serves
// the document with the scripts and link bootstrap injected. Every load
// rotates the bridge secret.
func (h *Handlers) ShimFrame(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	link, isShim := p.Adapter().(*webshim.Link)
	if !isShim {
		badRequest(c, fmt.Errorf("%w: page %s is not a shim page", errBadInput, p.ID))
		return
	}
	if p.URL == "" {
		badRequest(c, fmt.Errorf("%w: page %s has no url", errBadInput, p.ID))
		return
	}
	if h.fetcher == nil {
		writeError(c, fmt.Errorf("shim fetcher is not configured"))
		return
	}

	var html string
	err := h.trace(c.Request.Context(), "shim.render", func(ctx context.Context, span *tracing.Span) error {
		span.SetAttr("page_id", p.ID.String())
		span.SetAttr("url", p.URL)

		doc, err := h.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			return err
		}
		if err := p.Controller().Reload(ctx); err != nil {
			return err
		}
		html, err = link.Render(doc)
		if err != nil {
			return err
		}
		h.pages.SetURL(p.ID, doc.URL)
		h.pages.SetTitle(p.ID, doc.Title)
		return nil
	})
	if err != nil {
		h.logger.Warn("Failed to render shim page",
			zap.String("page_id", p.ID.String()),
			zap.Error(err))
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Vary", "Accept-Encoding")
	if !acceptsGzip(c.GetHeader("Accept-Encoding")) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}

	var buf bytes.Buffer
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if _, err := zw.Write([]byte(html)); err == nil && zw.Close() == nil {
		c.Header("Content-Encoding", "gzip")
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		return q != "q=0" && q != "q=0.0" && q != "q=0.000"
	}
	return false
}

package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/page"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/platform/webshim"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/id"
)

// Handler attaches served shim documents to their page link.
type Handler struct {
	pages    *page.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a link handler. The upgrader keeps gorilla's same
// origin check: the served document lives on this host.
func NewHandler(pages *page.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pages:  pages,
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// HandleLink upgrades the request and serves the page link until the
// document goes away.
func (h *Handler) HandleLink(c *gin.Context) {
	pageID := id.PageID(c.Param("id"))
	p, ok := h.pages.Get(pageID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": page.ErrPageNotFound.Error()})
		return
	}
	link, isShim := p.Adapter().(*webshim.Link)
	if !isShim {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page is not a shim page"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("page_id", pageID.String()),
			zap.Error(err))
		return
	}

	h.logger.Debug("Page link attached", zap.String("page_id", pageID.String()))
	err = link.Serve(c.Request.Context(), conn)
	switch {
	case err == nil, errors.Is(err, webshim.ErrLinkReplaced):
		h.logger.Debug("Page link detached", zap.String("page_id", pageID.String()))
	default:
		h.logger.Warn("Page link ended",
			zap.String("page_id", pageID.String()),
			zap.Error(err))
	}
}

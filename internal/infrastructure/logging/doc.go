// Package logging provides structured logging using uber/zap.
//
// Production loggers write JSON; development loggers write colored console
// output. Components receive a plain *zap.Logger, usually a child created
// with Component or Page so entries carry the component name or page_id.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8000"))
//	pages := logger.Component("pages")
package logging

package observer

import (
	"context"
	"fmt"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/bridge"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
)

// Zoom toggles pinch zoom of a loaded page through its viewport meta tag.
type Zoom struct {
	opts      Options
	evaluator bridge.Evaluator
}

// NewZoom creates a Zoom evaluating through evaluator.
func NewZoom(opts Options, evaluator bridge.Evaluator) *Zoom {
	return &Zoom{opts: opts, evaluator: evaluator}
}

// SetSupportZoom restores the captured viewport content when support is
// true and pins the viewport otherwise.
func (z *Zoom) SetSupportZoom(ctx context.Context, support bool) error {
	src, err := ZoomSource(z.opts, support)
	if err != nil {
		return err
	}
	if _, err := z.evaluator.EvaluateInPage(ctx, src, script.PageWorld); err != nil {
		return fmt.Errorf("set support zoom: %w", err)
	}
	return nil
}

// OriginalViewport returns the viewport content captured at document end.
func (z *Zoom) OriginalViewport(ctx context.Context) (string, error) {
	name := z.opts.name()
	v, err := z.evaluator.EvaluateInPage(ctx,
		"(window."+name+" != null && typeof "+bridge.Var(name, OriginalViewportProperty)+" === 'string') ? "+
			bridge.Var(name, OriginalViewportProperty)+" : ''", script.PageWorld)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

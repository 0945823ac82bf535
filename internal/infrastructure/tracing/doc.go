/*
Package tracing provides lightweight request tracing for the bridge host.

Spans are opened per HTTP request and around page operations (opening a
page, evaluating in it, link round trips), propagated through
context.Context and logged by a background collector once finished.

# Usage

	tracer := tracing.New("webbridge", logger, 1000)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	err := tracer.Trace(ctx, "page.evaluate", func(ctx context.Context, span *tracing.Span) error {
		span.SetAttr("page_id", pageID)
		_, err := adapter.EvaluateInPage(ctx, source, world)
		return err
	})

# Propagation

  - X-Trace-ID: identifier of the whole request flow
  - X-Span-ID: identifier of the caller's span
*/
package tracing

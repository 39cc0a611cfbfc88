package scopez

import "context"

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType struct{}

var spanKey spanKeyType

// spanBundle distinguishes a carried nil span from no span at all.
type spanBundle struct {
	span Span
}

// ContextWithSpan returns a copy of parent that carries span.
// Use it to move a span across a goroutine boundary, where the engine
// cannot follow execution.
func ContextWithSpan(parent context.Context, span Span) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, spanKey, &spanBundle{span: span})
}

// SpanFromContext extracts the span carried by ctx.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) Span {
	if b := bundleFrom(ctx); b != nil {
		return b.span
	}
	return nil
}

func bundleFrom(ctx context.Context) *spanBundle {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(spanKey).(*spanBundle)
	return b
}

// Context captures the active span into a context derived from parent.
func (e *Engine) Context(parent context.Context) context.Context {
	return ContextWithSpan(parent, e.Active())
}

// ActivateContext runs fn with the span carried by ctx active.
// Without a carried span, fn runs under whatever is already active.
func (e *Engine) ActivateContext(ctx context.Context, fn func()) {
	b := bundleFrom(ctx)
	if b == nil {
		if fn != nil {
			fn()
		}
		return
	}
	e.Activate(b.span, fn)
}

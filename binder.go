package scopez

import "github.com/zoobzio/scopez/asynchook"

// spanOrActive resolves the span a binding captures. Bindings capture
// once, when they are made.
func (e *Engine) spanOrActive(span Span) Span {
	if span == nil {
		return e.Active()
	}
	return span
}

// BindFunc returns fn wrapped so it always runs with span active.
// A nil span captures the span active now. Binding a bound function again
// does not activate twice: an activation of the span already on top is
// skipped.
func (e *Engine) BindFunc(span Span, fn func()) func() {
	if fn == nil {
		return nil
	}
	s := e.spanOrActive(span)
	return func() {
		e.Activate(s, fn)
	}
}

// BindFunc1 is BindFunc for callbacks taking one argument.
func BindFunc1[T any](e *Engine, span Span, fn func(T)) func(T) {
	if fn == nil {
		return nil
	}
	s := e.spanOrActive(span)
	return func(v T) {
		e.Activate(s, func() { fn(v) })
	}
}

// BindListener is BindFunc for event listeners.
func (e *Engine) BindListener(span Span, l asynchook.Listener) asynchook.Listener {
	if l == nil {
		return nil
	}
	s := e.spanOrActive(span)
	return func(args ...any) {
		e.Activate(s, func() { l(args...) })
	}
}

// boundEmitter wraps listeners as they are added. The wrapped emitter is
// left untouched.
type boundEmitter struct {
	asynchook.Emitter
	engine *Engine
	span   Span
}

// BindEmitter returns an emitter whose listeners run with span active.
// With a nil span each listener keeps the span active when it was added.
// Binding a bound emitter rebinds the original instead of stacking.
func (e *Engine) BindEmitter(em asynchook.Emitter, span Span) asynchook.Emitter {
	if em == nil {
		return nil
	}
	if b, ok := em.(*boundEmitter); ok {
		em = b.Emitter
	}
	return &boundEmitter{Emitter: em, engine: e, span: span}
}

func (b *boundEmitter) On(event string, l asynchook.Listener) func() {
	return b.Emitter.On(event, b.engine.BindListener(b.span, l))
}

func (b *boundEmitter) Once(event string, l asynchook.Listener) func() {
	return b.Emitter.Once(event, b.engine.BindListener(b.span, l))
}

// boundPromise runs Then handlers with a captured span active.
type boundPromise struct {
	inner  asynchook.Thenable
	engine *Engine
	span   Span
}

// BindPromise returns a thenable whose handlers run with span active,
// or with the span active now when span is nil. Promises returned by its
// Then are bound the same way.
func (e *Engine) BindPromise(p asynchook.Thenable, span Span) asynchook.Thenable {
	if p == nil {
		return nil
	}
	if b, ok := p.(*boundPromise); ok {
		p = b.inner
	}
	return &boundPromise{inner: p, engine: e, span: e.spanOrActive(span)}
}

func (b *boundPromise) Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) asynchook.Thenable {
	var fulfilled func(any) (any, error)
	if onFulfilled != nil {
		fulfilled = func(v any) (any, error) {
			return Call(b.engine, b.span, func() (any, error) { return onFulfilled(v) })
		}
	}
	var rejected func(error) (any, error)
	if onRejected != nil {
		rejected = func(err error) (any, error) {
			return Call(b.engine, b.span, func() (any, error) { return onRejected(err) })
		}
	}
	next := b.inner.Then(fulfilled, rejected)
	if next == nil {
		return nil
	}
	return &boundPromise{inner: next, engine: b.engine, span: b.span}
}

// Bind binds a function, listener, emitter or thenable and returns a value
// of the same type. Targets of other types are returned unchanged.
//
// T must be able to hold the binding: pass emitters as asynchook.Emitter
// and promises as asynchook.Thenable. With a concrete T such as
// *loop.Emitter or *loop.Promise the target comes back unbound; use
// BindEmitter or BindPromise directly for those.
func Bind[T any](e *Engine, target T, span Span) T {
	var bound any
	switch v := any(target).(type) {
	case func():
		bound = e.BindFunc(span, v)
	case asynchook.Listener:
		bound = e.BindListener(span, v)
	case func(...any):
		bound = (func(...any))(e.BindListener(span, v))
	case asynchook.Emitter:
		bound = e.BindEmitter(v, span)
	case asynchook.Thenable:
		bound = e.BindPromise(v, span)
	default:
		return target
	}
	if out, ok := bound.(T); ok {
		return out
	}
	return target
}

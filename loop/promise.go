package loop

import (
	"context"

	"github.com/pkg/errors"
	"github.com/zoobzio/scopez/asynchook"
)

// State is the settlement state of a Promise.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

// ErrSelfResolution rejects a promise resolved with itself.
var ErrSelfResolution = errors.New("loop: promise resolved with itself")

type reaction struct {
	child       *Promise
	onFulfilled func(any) (any, error)
	onRejected  func(error) (any, error)
}

// Promise settles once with a value or an error. Its reactions run as
// microtasks, each as an execution of the promise returned by Then.
type Promise struct {
	l         *Loop
	value     any
	err       error
	reactions []reaction
	id        asynchook.ID
	state     State
	locked    bool
}

// NewPromise creates a promise and runs executor synchronously.
// A panicking executor rejects the promise.
func (l *Loop) NewPromise(executor func(resolve func(any), reject func(error))) *Promise {
	p := l.newPromise(l.current)
	if executor == nil {
		return p
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.reject(errors.Errorf("loop: promise executor panicked: %v", r))
			}
		}()
		executor(p.resolve, p.reject)
	}()
	return p
}

// Resolve returns a promise resolved with v.
func (l *Loop) Resolve(v any) *Promise {
	p := l.newPromise(l.current)
	p.resolve(v)
	return p
}

// Reject returns a promise rejected with err.
func (l *Loop) Reject(err error) *Promise {
	p := l.newPromise(l.current)
	p.reject(err)
	return p
}

// Go runs fn on its own goroutine and settles the returned promise on the
// loop. The loop cannot follow execution onto that goroutine: pass what fn
// needs, the active span included, through ctx.
func (l *Loop) Go(ctx context.Context, fn func(context.Context) (any, error)) *Promise {
	p := l.newPromise(l.current)
	if fn == nil {
		p.resolve(nil)
		return p
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.pending++
	go func() {
		v, err := runOffloaded(ctx, fn)
		l.post(func() {
			l.pending--
			l.invoke(p.id, func() {
				if err != nil {
					p.reject(err)
					return
				}
				p.resolve(v)
			})
		}, nil)
	}()
	return p
}

func runOffloaded(ctx context.Context, fn func(context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("loop: offloaded work panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (l *Loop) newPromise(trigger asynchook.ID) *Promise {
	p := &Promise{l: l}
	p.id = l.newResource(KindPromise, trigger)
	return p
}

// ID returns the promise's resource id.
func (p *Promise) ID() asynchook.ID {
	return p.id
}

// State reports whether the promise settled and how.
func (p *Promise) State() State {
	return p.state
}

// Result returns the settled value and error. Both are zero while pending.
func (p *Promise) Result() (any, error) {
	return p.value, p.err
}

// Then registers handlers and returns the promise they settle.
// It implements asynchook.Thenable; the result is always a *Promise.
func (p *Promise) Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) asynchook.Thenable {
	child := p.l.newPromise(p.id)
	r := reaction{child: child, onFulfilled: onFulfilled, onRejected: onRejected}
	if p.state == Pending {
		p.reactions = append(p.reactions, r)
	} else {
		p.queue(r)
	}
	return child
}

func (p *Promise) resolve(v any) {
	if p.state != Pending || p.locked {
		return
	}
	if other, ok := v.(*Promise); ok && other == p {
		p.settle(Rejected, nil, ErrSelfResolution)
		return
	}
	if th, ok := v.(asynchook.Thenable); ok {
		p.locked = true
		th.Then(func(x any) (any, error) {
			p.settle(Fulfilled, x, nil)
			return nil, nil
		}, func(err error) (any, error) {
			p.settle(Rejected, nil, err)
			return nil, nil
		})
		return
	}
	p.settle(Fulfilled, v, nil)
}

func (p *Promise) reject(err error) {
	if p.state != Pending || p.locked {
		return
	}
	p.settle(Rejected, nil, err)
}

func (p *Promise) settle(state State, v any, err error) {
	if p.state != Pending {
		return
	}
	p.state = state
	p.value = v
	p.err = err
	p.l.emitPromiseResolve(p.id)

	reactions := p.reactions
	p.reactions = nil
	for _, r := range reactions {
		p.queue(r)
	}
	if state == Rejected && len(reactions) == 0 {
		p.l.log.WithField("async_id", uint64(p.id)).WithError(err).Debug("loop: promise rejected without handlers")
	}
}

func (p *Promise) queue(r reaction) {
	p.l.micro = append(p.l.micro, func() {
		p.l.invoke(r.child.id, func() {
			v, err := p.react(r)
			if err != nil {
				r.child.reject(err)
				return
			}
			r.child.resolve(v)
		})
	})
}

// react runs one handler. A panicking handler rejects the child promise.
func (p *Promise) react(r reaction) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("loop: promise handler panicked: %v", rec)
		}
	}()
	switch {
	case p.state == Fulfilled && r.onFulfilled != nil:
		return r.onFulfilled(p.value)
	case p.state == Fulfilled:
		return p.value, nil
	case r.onRejected != nil:
		return r.onRejected(p.err)
	default:
		return nil, p.err
	}
}

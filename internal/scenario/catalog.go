package scenario

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/zoobzio/scopez"
	"github.com/zoobzio/scopez/loop"
)

var errStorm = errors.New("storm rejection")

// All returns every scenario sorted by name.
func All() []Scenario {
	all := []Scenario{
		{
			Name:        "restore-on-exit",
			Description: "nested activations restore the previous span, also when the callback panics",
			Run:         restoreOnExit,
		},
		{
			Name:        "lifo-nesting",
			Description: "entering A then B and closing B then A walks nil, A, B, A, nil",
			Run:         lifoNesting,
		},
		{
			Name:        "branch-isolation",
			Description: "a scope left open in one timer is not visible from a sibling timer",
			Run:         branchIsolation,
		},
		{
			Name:        "bypass",
			Description: "work scheduled from a callback without scopes inherits the grandparent span",
			Run:         bypass,
		},
		{
			Name:        "late-close-bypass",
			Description: "closing the last scope after its callback returned relinks pending work",
			Run:         lateCloseBypass,
			Strategies:  []scopez.Strategy{scopez.StrategyTree},
		},
		{
			Name:        "idempotent-close",
			Description: "closing a finishing scope twice finishes the span once",
			Run:         idempotentClose,
		},
		{
			Name:        "reentry",
			Description: "an interval sees the scope it left open until that scope closes",
			Run:         reentry,
			Strategies:  []scopez.Strategy{scopez.StrategyTree},
		},
		{
			Name:        "bound-callback",
			Description: "a bound callback invoked from an untracked tick runs under its span",
			Run:         boundCallback,
		},
		{
			Name:        "emitter-binding",
			Description: "bound listeners keep the span active when they were added",
			Run:         emitterBinding,
		},
		{
			Name:        "promise-binding",
			Description: "handlers of a bound promise and of its derived promises run under the bound span",
			Run:         promiseBinding,
		},
		{
			Name:        "goroutine-offload",
			Description: "a span carried in a context parents work on another goroutine",
			Run:         goroutineOffload,
		},
		{
			Name:        "masking",
			Description: "activating no span hides the parent, also for work scheduled meanwhile",
			Run:         masking,
		},
		{
			Name:        "convergence",
			Description: "a storm of timers, intervals and promises leaves nothing tracked",
			Run:         convergence,
		},
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range All() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

func restoreOnExit(env *Env) {
	e, tr := env.Engine, env.Tracer
	outer := tr.StartSpan("outer")

	e.Activate(outer, func() {
		func() {
			defer func() {
				env.Check(recover() == "inner failure", "panic did not propagate unchanged")
			}()
			e.Activate(tr.StartSpan("inner"), func() { panic("inner failure") })
		}()
		env.Expect(outer, "after the inner activation panicked")

		env.Loop.SetTimeout(0, func() {
			e.Activate(tr.StartSpan("timer"), func() {})
			env.Expect(outer, "after an activation inside a timer")
		})
	})
	env.Expect(nil, "after the outer activation")
}

func lifoNesting(env *Env) {
	e, tr := env.Engine, env.Tracer
	a, b := tr.StartSpan("A"), tr.StartSpan("B")

	env.Expect(nil, "before A")
	sa := e.Enter(a)
	env.Expect(a, "after entering A")
	sb := e.Enter(b)
	env.Expect(b, "after entering B")
	sb.Close()
	env.Expect(a, "after closing B")
	sa.Close()
	env.Expect(nil, "after closing A")
}

func branchIsolation(env *Env) {
	e, l, tr := env.Engine, env.Loop, env.Tracer
	root := tr.StartSpan("root")

	e.Activate(root, func() {
		l.SetTimeout(0, func() {
			a := tr.StartSpan("branch-a")
			scope := e.Enter(a)
			l.SetImmediate(func() {
				env.Expect(a, "branch A continuation")
				scope.Close()
			})
		})
		l.SetTimeout(0, func() {
			env.Expect(root, "branch B")
			l.SetImmediate(func() { env.Expect(root, "branch B continuation") })
		})
	})
}

func bypass(env *Env) {
	e, l := env.Engine, env.Loop
	grandparent := env.Tracer.StartSpan("grandparent")

	e.Activate(grandparent, func() {
		l.SetTimeout(0, func() {
			l.SetTimeout(time.Millisecond, func() {
				env.Expect(grandparent, "work scheduled from an empty callback")
			})
		})
	})
}

func lateCloseBypass(env *Env) {
	e, l, tr := env.Engine, env.Loop, env.Tracer
	grandparent := tr.StartSpan("grandparent")

	e.Activate(grandparent, func() {
		l.SetTimeout(0, func() {
			open := tr.StartSpan("open")
			scope := e.Enter(open)
			l.SetImmediate(func() {
				env.Expect(open, "while the scope is open")
				scope.Close()
			})
			l.SetTimeout(5*time.Millisecond, func() {
				env.Expect(grandparent, "after the scope closed")
			})
		})
	})
}

func idempotentClose(env *Env) {
	span := env.Tracer.StartSpan("closable")
	scope := env.Engine.Enter(span, scopez.FinishOnClose())
	scope.Close()
	scope.Close()
	env.Check(env.Recorder.Count() == 1, "span finished %d times, want 1", env.Recorder.Count())
}

func reentry(env *Env) {
	e, l, tr := env.Engine, env.Loop, env.Tracer
	root := tr.StartSpan("root")

	var (
		interval *loop.Timer
		scope    *scopez.Scope
		runs     int
	)
	e.Activate(root, func() {
		interval = l.SetInterval(time.Millisecond, func() {
			runs++
			switch runs {
			case 1:
				env.Expect(root, "first run")
				scope = e.Enter(tr.StartSpan("child"))
				env.Expect(scope.Span(), "after entering child")
			case 2:
				env.Expect(scope.Span(), "second run")
				scope.Close()
				env.Expect(root, "after closing child")
			default:
				env.Expect(root, "third run")
				interval.Clear()
			}
		})
	})
}

func boundCallback(env *Env) {
	e := env.Engine
	x := env.Tracer.StartSpan("x")

	var bound func()
	e.Activate(x, func() {
		bound = e.BindFunc(nil, func() { env.Expect(x, "inside the bound callback") })
	})
	env.Loop.SetTimeout(0, func() {
		env.Expect(nil, "before the bound callback")
		bound()
		env.Expect(nil, "after the bound callback")
	})
}

func emitterBinding(env *Env) {
	e, tr := env.Engine, env.Tracer
	attaching, emitting := tr.StartSpan("attaching"), tr.StartSpan("emitting")

	em := loop.NewEmitter()
	bound := e.BindEmitter(em, nil)
	e.Activate(attaching, func() {
		bound.On("data", func(...any) { env.Expect(attaching, "bound listener") })
	})
	em.On("data", func(...any) { env.Expect(emitting, "plain listener") })

	e.Activate(emitting, func() {
		env.Check(em.Emit("data"), "no listener ran")
	})
}

func promiseBinding(env *Env) {
	e, l := env.Engine, env.Loop
	x := env.Tracer.StartSpan("x")

	p := l.NewPromise(func(resolve func(any), _ func(error)) {
		l.SetTimeout(time.Millisecond, func() { resolve("done") })
	})
	e.BindPromise(p, x).Then(func(v any) (any, error) {
		env.Expect(x, "fulfilled handler")
		return v, nil
	}, nil).Then(func(v any) (any, error) {
		env.Expect(x, "derived handler")
		env.Check(v == "done", "derived handler got %v", v)
		return nil, nil
	}, nil)
}

func goroutineOffload(env *Env) {
	e, tr := env.Engine, env.Tracer
	request := tr.StartSpan("request")

	e.Activate(request, func() {
		ctx := e.Context(context.Background())
		env.Loop.Go(ctx, func(ctx context.Context) (any, error) {
			worker := tr.StartSpanContext(ctx, "worker")
			worker.Finish()
			return worker.ParentID(), nil
		}).Then(func(v any) (any, error) {
			env.Check(v == request.SpanID(), "worker parented on %v, want %s", v, request.SpanID())
			env.Expect(request, "after the offload settled")
			return nil, nil
		}, nil)
	})
}

func masking(env *Env) {
	e, l := env.Engine, env.Loop
	parent := env.Tracer.StartSpan("parent")

	e.Activate(parent, func() {
		e.Activate(nil, func() {
			env.Expect(nil, "inside the masking activation")
			l.SetImmediate(func() { env.Expect(nil, "immediate scheduled while masked") })
		})
		env.Expect(parent, "after the masking activation")
	})
}

func convergence(env *Env) {
	e, l, tr := env.Engine, env.Loop, env.Tracer

	for i := 0; i < 100; i++ {
		span := tr.StartSpan("storm")
		expect := func(where string) {
			if e.Active() != scopez.Span(span) {
				env.Failf("storm %d: wrong span in %s", i, where)
			}
		}
		e.Activate(span, func() {
			switch i % 4 {
			case 0:
				l.SetTimeout(time.Duration(i%5)*time.Millisecond, func() {
					expect("timeout")
					l.Resolve(i).Then(func(any) (any, error) {
						expect("promise")
						return nil, nil
					}, nil)
				})
			case 1:
				var interval *loop.Timer
				runs := 0
				interval = l.SetInterval(time.Millisecond, func() {
					expect("interval")
					if runs++; runs == 3 {
						interval.Clear()
					}
				})
			case 2:
				l.SetImmediate(func() {
					scope := e.Enter(tr.StartSpan("left-open"))
					l.SetImmediate(scope.Close)
				})
			default:
				l.Reject(errStorm).Then(nil, func(error) (any, error) {
					expect("rejection handler")
					return nil, nil
				})
			}
		})
	}
}

// Package scenario holds named propagation scenarios that run against a
// fresh loop, engine and tracer and report what they observed.
package scenario

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/scopez"
	"github.com/zoobzio/scopez/loop"
	"github.com/zoobzio/scopez/tracer"
)

// Scenario is one named check.
type Scenario struct {
	Run         func(env *Env)
	Name        string
	Description string
	// Strategies lists where the scenario applies; empty means all.
	Strategies []scopez.Strategy
}

func (s Scenario) supports(strategy scopez.Strategy) bool {
	if len(s.Strategies) == 0 {
		return true
	}
	for _, st := range s.Strategies {
		if st == strategy {
			return true
		}
	}
	return false
}

// Env is what a scenario runs against. Everything in it belongs to one run.
type Env struct {
	Loop     *loop.Loop
	Engine   *scopez.Engine
	Tracer   *tracer.Tracer
	Recorder *tracer.Recorder
	failures []string
}

// Failf records a failure without stopping the scenario.
func (env *Env) Failf(format string, args ...any) {
	env.failures = append(env.failures, fmt.Sprintf(format, args...))
}

// Check records a failure unless ok.
func (env *Env) Check(ok bool, format string, args ...any) {
	if !ok {
		env.Failf(format, args...)
	}
}

// Expect checks the engine's active span.
func (env *Env) Expect(want scopez.Span, where string) {
	if got := env.Engine.Active(); got != want {
		env.Failf("%s: active span is %s, want %s", where, describe(got), describe(want))
	}
}

func describe(s scopez.Span) string {
	switch v := s.(type) {
	case nil:
		return "<none>"
	case *tracer.Span:
		return fmt.Sprintf("%q", v.Name())
	default:
		return fmt.Sprintf("%T", s)
	}
}

// Result is the outcome of one scenario run.
type Result struct {
	Err      error
	Name     string
	Failures []string
	Stats    scopez.Stats
	Strategy scopez.Strategy
	Spans    int
	Skipped  bool
}

// Passed reports whether the scenario ran without failures.
func (r Result) Passed() bool {
	return !r.Skipped && r.Err == nil && len(r.Failures) == 0
}

// Runner executes scenarios.
type Runner struct {
	Log logrus.FieldLogger
	// Registerer, when set, receives each run's engine metrics labelled
	// with the scenario and strategy.
	Registerer prometheus.Registerer
	Options    []scopez.Option
	Strategy   scopez.Strategy
}

// Run executes s on a fresh loop and engine, then checks that the engine
// released everything it tracked.
func (r Runner) Run(ctx context.Context, s Scenario) (res Result) {
	res = Result{Name: s.Name, Strategy: r.Strategy}
	if !s.supports(r.Strategy) {
		res.Skipped = true
		return res
	}

	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"scenario": s.Name, "strategy": r.Strategy.String()})

	l := loop.New(loop.WithLogger(log))
	defer l.Close()

	opts := append([]scopez.Option(nil), r.Options...)
	opts = append(opts, scopez.WithLogger(log), scopez.WithStrategy(r.Strategy), scopez.WithRuntime(l))
	if r.Registerer != nil {
		opts = append(opts, scopez.WithRegisterer(prometheus.WrapRegistererWith(prometheus.Labels{
			"scenario": s.Name,
			"strategy": r.Strategy.String(),
		}, r.Registerer)))
	}
	engine := scopez.New(opts...)

	tr := tracer.New(engine, tracer.WithLogger(log))
	defer tr.Close()
	rec := tracer.NewRecorder(0)
	rec.Attach(tr)

	env := &Env{Loop: l, Engine: engine, Tracer: tr, Recorder: rec}

	defer func() {
		if p := recover(); p != nil {
			res.Err = errors.Errorf("scenario panicked: %v", p)
		}
	}()

	if err := l.Run(ctx, func() { s.Run(env) }); err != nil {
		res.Err = errors.Wrapf(err, "scenario %s", s.Name)
	}
	res.Stats = engine.Stats()
	if res.Err == nil && res.Stats != (scopez.Stats{}) {
		env.Failf("engine still tracks %+v after the loop drained", res.Stats)
	}
	res.Failures = env.failures
	res.Spans = rec.Count()
	return res
}

package benchmarks

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/scopez"
	"github.com/zoobzio/scopez/loop"
	"github.com/zoobzio/scopez/tracer"
)

type benchSpan struct{}

func (benchSpan) Finish() {}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newEngine(strategy scopez.Strategy) *scopez.Engine {
	return scopez.New(scopez.WithStrategy(strategy), scopez.WithLogger(quietLogger()))
}

var strategies = []scopez.Strategy{scopez.StrategyTree, scopez.StrategyFlat}

// BenchmarkActivate measures the cost of a synchronous activation.
func BenchmarkActivate(b *testing.B) {
	for _, strategy := range strategies {
		b.Run(strategy.String(), func(b *testing.B) {
			e := newEngine(strategy)
			span := &benchSpan{}
			fn := func() {}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e.Activate(span, fn)
			}
		})
	}
}

// BenchmarkActive measures span lookup from inside a nested activation.
func BenchmarkActive(b *testing.B) {
	e := newEngine(scopez.StrategyTree)
	e.Activate(&benchSpan{}, func() {
		scope := e.Enter(&benchSpan{})
		defer scope.Close()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = e.Active()
		}
	})
}

// BenchmarkResourceLifecycle measures one init, before, after, destroy
// sequence, the per-callback overhead a runtime pays.
func BenchmarkResourceLifecycle(b *testing.B) {
	for _, strategy := range strategies {
		b.Run(strategy.String(), func(b *testing.B) {
			e := newEngine(strategy)
			obs := e.Observer()
			span := &benchSpan{}

			b.ReportAllocs()
			b.ResetTimer()
			e.Activate(span, func() {
				for i := 0; i < b.N; i++ {
					id := scopez.ResourceID(i + 1)
					obs.Init(id, 0, "Timeout")
					obs.Before(id)
					obs.After(id)
					obs.Destroy(id)
				}
			})
		})
	}
}

// BenchmarkBoundCallback measures invoking a bound function.
func BenchmarkBoundCallback(b *testing.B) {
	e := newEngine(scopez.StrategyTree)
	bound := e.BindFunc(&benchSpan{}, func() {})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bound()
	}
}

// BenchmarkImmediateChain measures a chain of immediates on a hooked loop.
func BenchmarkImmediateChain(b *testing.B) {
	for _, strategy := range strategies {
		b.Run(strategy.String(), func(b *testing.B) {
			log := quietLogger()
			l := loop.New(loop.WithLogger(log))
			e := scopez.New(scopez.WithStrategy(strategy), scopez.WithLogger(log), scopez.WithRuntime(l))

			b.ReportAllocs()
			b.ResetTimer()
			runs := 0
			var step func()
			step = func() {
				runs++
				if runs < b.N {
					l.SetImmediate(step)
				}
			}
			err := l.Run(context.Background(), func() {
				e.Activate(&benchSpan{}, func() { l.SetImmediate(step) })
			})
			if err != nil {
				b.Fatal(err)
			}
		})
	}
}

// BenchmarkTracerTrace measures span creation through the tracer with
// parent lookup and completion handlers.
func BenchmarkTracerTrace(b *testing.B) {
	e := newEngine(scopez.StrategyTree)
	tr := tracer.New(e, tracer.WithLogger(quietLogger()))
	defer tr.Close()
	rec := tracer.NewRecorder(tracer.DefaultRecorderCapacity)
	rec.Attach(tr)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tr.Trace("request", func(*tracer.Span) error {
			tr.StartSpan("child").Finish()
			return nil
		})
		if i%tracer.DefaultRecorderCapacity == 0 {
			rec.Reset()
		}
	}
}

package scopez

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/zoobzio/scopez/asynchook"
)

type testSpan struct {
	name     string
	finished int
}

func (s *testSpan) Finish() {
	s.finished++
}

func newSpan(name string) *testSpan {
	return &testSpan{name: name}
}

// newTestEngine returns an engine whose anomaly log is captured by the hook.
func newTestEngine(opts ...Option) (*Engine, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return New(append([]Option{WithLogger(log)}, opts...)...), hook
}

func expectActive(t *testing.T, e *Engine, want Span) {
	t.Helper()
	if got := e.Active(); got != want {
		t.Fatalf("Expected active span %v, got %v", want, got)
	}
}

func expectDrained(t *testing.T, e *Engine) {
	t.Helper()
	if stats := e.Stats(); stats.Contexts != 0 || stats.Frames != 0 || stats.Scopes != 0 {
		t.Fatalf("Expected nothing tracked, got %+v", stats)
	}
}

func anomalyCount(hook *test.Hook, kind string) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Data["kind"] == kind {
			n++
		}
	}
	return n
}

func TestActiveWithoutActivation(t *testing.T) {
	e, _ := newTestEngine()
	expectActive(t, e, nil)
	if e.Strategy() != StrategyTree {
		t.Errorf("Expected tree strategy by default, got %s", e.Strategy())
	}
}

func TestActivateNesting(t *testing.T) {
	e, _ := newTestEngine()
	a, b := newSpan("a"), newSpan("b")

	var seen []Span
	seen = append(seen, e.Active())
	e.Activate(a, func() {
		seen = append(seen, e.Active())
		e.Activate(b, func() {
			seen = append(seen, e.Active())
		})
		seen = append(seen, e.Active())
	})
	seen = append(seen, e.Active())

	want := []Span{nil, a, b, a, nil}
	if len(seen) != len(want) {
		t.Fatalf("Expected %d observations, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Observation %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
	expectDrained(t, e)
}

func TestActivateRestoresOnPanic(t *testing.T) {
	e, _ := newTestEngine()
	outer, inner := newSpan("outer"), newSpan("inner")

	e.Activate(outer, func() {
		var recovered any
		func() {
			defer func() { recovered = recover() }()
			e.Activate(inner, func() { panic("boom") })
		}()
		if recovered != "boom" {
			t.Errorf("Expected panic to propagate unchanged, got %v", recovered)
		}
		expectActive(t, e, outer)
	})
	expectActive(t, e, nil)
	expectDrained(t, e)
}

func TestActivateNilFunction(t *testing.T) {
	e, _ := newTestEngine()
	e.Activate(newSpan("a"), nil)
	expectDrained(t, e)

	v, err := Call[int](e, newSpan("a"), nil)
	if v != 0 || err != nil {
		t.Errorf("Expected zero result for nil function, got %d, %v", v, err)
	}
}

func TestActivateNilMasksParent(t *testing.T) {
	e, _ := newTestEngine()
	parent := newSpan("parent")

	e.Activate(parent, func() {
		e.Activate(nil, func() {
			expectActive(t, e, nil)
		})
		expectActive(t, e, parent)
	})
}

func TestCallReturnsResult(t *testing.T) {
	e, _ := newTestEngine()
	a := newSpan("a")
	errQuery := errors.New("query failed")

	v, err := Call(e, a, func() (string, error) {
		expectActive(t, e, a)
		return "rows", errQuery
	})
	if v != "rows" || !errors.Is(err, errQuery) {
		t.Errorf("Expected result and error to pass through, got %q, %v", v, err)
	}
	expectActive(t, e, nil)
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	e, _ := newTestEngine()
	a, b := newSpan("a"), newSpan("b")

	finishing := e.Enter(a, FinishOnClose())
	plain := e.Enter(b)
	if plain.Span() != b {
		t.Errorf("Expected scope span b, got %v", plain.Span())
	}

	plain.Close()
	plain.Close()
	expectActive(t, e, a)
	if b.finished != 0 {
		t.Errorf("Expected plain scope not to finish its span, got %d", b.finished)
	}

	finishing.Close()
	finishing.Close()
	expectActive(t, e, nil)
	if a.finished != 1 {
		t.Errorf("Expected span finished exactly once, got %d", a.finished)
	}

	// A masking scope has no span to finish.
	e.Enter(nil, FinishOnClose()).Close()
	expectDrained(t, e)
}

func TestScopesCloseOutOfOrder(t *testing.T) {
	e, _ := newTestEngine()
	a, b := newSpan("a"), newSpan("b")

	first := e.Enter(a)
	second := e.Enter(b)
	first.Close()
	expectActive(t, e, b)
	second.Close()
	expectActive(t, e, nil)
	expectDrained(t, e)
}

func TestReentrySeesScopeLeftOpen(t *testing.T) {
	e, _ := newTestEngine()
	root, child := newSpan("root"), newSpan("child")

	e.Activate(root, func() {
		e.ResourceCreated(1, 0)
	})

	e.ExecutionEnter(1)
	expectActive(t, e, root)
	scope := e.Enter(child)
	expectActive(t, e, child)
	e.ExecutionExit(1)
	expectActive(t, e, nil)

	// A later run of the same resource still sees the open scope.
	e.ExecutionEnter(1)
	expectActive(t, e, child)
	scope.Close()
	expectActive(t, e, root)
	e.ExecutionExit(1)

	e.ResourceDestroyed(1)
	expectDrained(t, e)
}

func TestResourcesKeepActivationAfterReturn(t *testing.T) {
	e, _ := newTestEngine()
	a := newSpan("a")

	e.Activate(a, func() {
		e.ResourceCreated(1, 0)
	})
	expectActive(t, e, nil)

	e.ExecutionEnter(1)
	expectActive(t, e, a)
	e.ExecutionExit(1)
	e.ResourceDestroyed(1)
	expectDrained(t, e)
}

func TestBypassResolvesToGrandparent(t *testing.T) {
	e, _ := newTestEngine()
	grandparent := newSpan("grandparent")

	e.Activate(grandparent, func() {
		e.ResourceCreated(1, 0)
	})
	e.ExecutionEnter(1)
	e.ResourceCreated(2, 1)
	e.ExecutionExit(1)

	// Resource 1's frame exited without scopes and must not be retained.
	if frames := e.Stats().Frames; frames != 1 {
		t.Errorf("Expected only the activation frame to remain, got %d frames", frames)
	}

	e.ExecutionEnter(2)
	expectActive(t, e, grandparent)
	e.ExecutionExit(2)

	e.ResourceDestroyed(1)
	e.ResourceDestroyed(2)
	expectDrained(t, e)
}

func TestBypassAfterLateClose(t *testing.T) {
	e, _ := newTestEngine()
	grandparent, open := newSpan("grandparent"), newSpan("open")

	e.Activate(grandparent, func() {
		e.ResourceCreated(1, 0)
	})
	e.ExecutionEnter(1)
	scope := e.Enter(open)
	e.ResourceCreated(2, 1)
	e.ExecutionExit(1)

	e.ExecutionEnter(2)
	expectActive(t, e, open)
	e.ExecutionExit(2)

	// Closing after the frame exited relinks its children.
	scope.Close()
	e.ExecutionEnter(2)
	expectActive(t, e, grandparent)
	e.ExecutionExit(2)

	e.ResourceDestroyed(2)
	e.ResourceDestroyed(1)
	expectDrained(t, e)
}

func TestSiblingBranchesAreIsolated(t *testing.T) {
	e, _ := newTestEngine()
	a, b, leaked := newSpan("a"), newSpan("b"), newSpan("leaked")

	e.Activate(a, func() { e.ResourceCreated(1, 0) })
	e.Activate(b, func() { e.ResourceCreated(2, 0) })

	e.ExecutionEnter(1)
	scope := e.Enter(leaked)
	e.ResourceCreated(3, 1)
	e.ExecutionExit(1)

	e.ExecutionEnter(2)
	expectActive(t, e, b)
	e.ExecutionExit(2)

	e.ExecutionEnter(3)
	expectActive(t, e, leaked)
	e.ExecutionExit(3)

	scope.Close()
	for _, id := range []ResourceID{1, 2, 3} {
		e.ResourceDestroyed(id)
	}
	expectDrained(t, e)
}

func TestActivationPerRunDoesNotChain(t *testing.T) {
	e, _ := newTestEngine()
	e.Activate(newSpan("tick"), func() { e.ResourceCreated(1, 0) })

	peak := 0
	for id := ResourceID(1); id <= 500; id++ {
		e.ExecutionEnter(id)
		e.Activate(newSpan("tick"), func() {
			e.ResourceCreated(id+1, 0)
			if n := e.Stats().Frames; n > peak {
				peak = n
			}
		})
		e.ExecutionExit(id)
		e.ResourceDestroyed(id)
	}

	// The running frame, the activation it came from and its own.
	if peak > 3 {
		t.Errorf("Expected at most 3 frames per run, peaked at %d", peak)
	}
	if stats := e.Stats(); stats.Frames != 1 || stats.Contexts != 1 {
		t.Errorf("Expected one pending context and its activation, got %+v", stats)
	}
	e.ResourceDestroyed(501)
	expectDrained(t, e)
}

func TestTriggerOnlyUsedAtTopLevel(t *testing.T) {
	e, _ := newTestEngine()
	a, b := newSpan("a"), newSpan("b")

	e.Activate(a, func() { e.ResourceCreated(1, 0) })

	// Created from top-level code: inherits through the trigger.
	e.ResourceCreated(2, 1)
	// Created inside an activation: the live frame wins.
	e.Activate(b, func() { e.ResourceCreated(3, 1) })
	// Unknown trigger: falls back to the live frame.
	e.ResourceCreated(4, 42)

	for id, want := range map[ResourceID]Span{2: a, 3: b, 4: nil} {
		e.ExecutionEnter(id)
		expectActive(t, e, want)
		e.ExecutionExit(id)
	}

	for _, id := range []ResourceID{1, 2, 3, 4} {
		e.ResourceDestroyed(id)
	}
	expectDrained(t, e)
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	e, hook := newTestEngine()

	e.ExecutionEnter(99)
	e.ExecutionExit(99)
	e.ResourceDestroyed(99)
	e.PromiseSettled(99)
	e.ResourceCreated(0, 0)

	expectActive(t, e, nil)
	expectDrained(t, e)
	if n := anomalyCount(hook, "unknown_id"); n != 4 {
		t.Errorf("Expected 4 unknown_id anomalies, got %d", n)
	}
	if n := anomalyCount(hook, "zero_id"); n != 1 {
		t.Errorf("Expected 1 zero_id anomaly, got %d", n)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.DebugLevel {
		t.Errorf("Expected anomalies logged at debug level, got %v", entry)
	}
}

func TestDisorderedNotificationsConverge(t *testing.T) {
	e, hook := newTestEngine()
	a := newSpan("a")

	e.Activate(a, func() {
		e.ResourceCreated(1, 0)
		e.ResourceCreated(1, 0)
		e.ResourceCreated(2, 0)
		e.ResourceCreated(3, 0)
	})

	// Resource 2 never reports its own exit.
	e.ExecutionEnter(1)
	e.ExecutionEnter(2)
	e.ExecutionExit(1)
	expectActive(t, e, nil)
	e.ExecutionExit(2)

	// Destroyed while running.
	e.ExecutionEnter(3)
	e.ResourceDestroyed(3)
	expectActive(t, e, a)
	e.ExecutionExit(3)

	e.ResourceDestroyed(2)
	e.ResourceDestroyed(2)
	e.ResourceDestroyed(1)
	e.PromiseSettled(1)

	expectActive(t, e, nil)
	expectDrained(t, e)
	if anomalyCount(hook, "duplicate_init") != 1 {
		t.Error("Expected the duplicate init to be reported")
	}
	if anomalyCount(hook, "missing_after") != 1 {
		t.Error("Expected the missing exit to be reported")
	}
}

func TestExitInsideActivationUnwinds(t *testing.T) {
	e, _ := newTestEngine()
	a, b := newSpan("a"), newSpan("b")

	e.Activate(a, func() { e.ResourceCreated(1, 0) })

	e.ExecutionEnter(1)
	e.Activate(b, func() {
		// The runtime ends resource 1 while the activation is still open.
		e.ExecutionExit(1)
		expectActive(t, e, nil)
	})
	expectActive(t, e, nil)

	e.ResourceDestroyed(1)
	expectDrained(t, e)
}

type fakeSource struct {
	cb      asynchook.Callbacks
	adds    int
	removes int
}

func (s *fakeSource) AddHooks(cb asynchook.Callbacks) func() {
	s.adds++
	s.cb = cb
	return func() {
		s.removes++
		s.cb = nil
	}
}

func TestHookEnabledOnlyWhileTracking(t *testing.T) {
	src := &fakeSource{}
	e, _ := newTestEngine(WithRuntime(src))
	if e.Stats().HookEnabled || src.adds != 0 {
		t.Fatal("Expected hook disabled until something is activated")
	}

	var cb asynchook.Callbacks
	e.Activate(newSpan("a"), func() {
		if !e.Stats().HookEnabled {
			t.Error("Expected hook enabled while a scope is open")
		}
		cb = src.cb
		cb.Init(1, 0, "Timeout")
	})
	if !e.Stats().HookEnabled {
		t.Fatal("Expected hook to stay enabled while a context is tracked")
	}

	cb.Before(1)
	cb.After(1)
	cb.Destroy(1)
	if e.Stats().HookEnabled {
		t.Error("Expected hook disabled once nothing is tracked")
	}
	if src.adds != 1 || src.removes != 1 {
		t.Errorf("Expected one registration and one removal, got %d and %d", src.adds, src.removes)
	}

	// Scopes alone re-enable it.
	scope := e.Enter(newSpan("b"))
	if !e.Stats().HookEnabled {
		t.Error("Expected hook enabled by an open scope")
	}
	scope.Close()
	if e.Stats().HookEnabled {
		t.Error("Expected hook disabled after the scope closed")
	}
}

func TestHookDropsResourcesWithoutActivation(t *testing.T) {
	src := &fakeSource{}
	e, _ := newTestEngine(WithRuntime(src))

	scope := e.Enter(newSpan("a"))
	src.cb.Init(1, 0, "Interval")
	if e.Stats().Contexts != 1 {
		t.Fatalf("Expected the interval tracked while the scope is open, got %+v", e.Stats())
	}

	// Without the scope the interval resolves to nothing.
	scope.Close()
	if stats := e.Stats(); stats != (Stats{}) {
		t.Errorf("Expected nothing tracked and the hook off, got %+v", stats)
	}
	if src.cb != nil {
		t.Error("Expected the hook to be removed from the runtime")
	}
}

func TestHookDropsUnspannedSnapshots(t *testing.T) {
	src := &fakeSource{}
	e, _ := newTestEngine(WithRuntime(src), WithStrategy(StrategyFlat))

	e.Activate(newSpan("a"), func() { src.cb.Init(1, 0, "Timeout") })
	scope := e.Enter(nil)
	src.cb.Init(2, 0, "Timeout")
	scope.Close()

	// The snapshot holding a span keeps the hook on; the nil one does not.
	if !e.Stats().HookEnabled {
		t.Fatal("Expected hook enabled while a span snapshot is remembered")
	}
	src.cb.Destroy(1)
	if stats := e.Stats(); stats != (Stats{}) {
		t.Errorf("Expected nothing tracked and the hook off, got %+v", stats)
	}
}

func TestObserverDrivesEngine(t *testing.T) {
	e, _ := newTestEngine()
	a := newSpan("a")
	obs := e.Observer()

	e.Activate(a, func() { obs.Init(7, 0, "PROMISE") })
	obs.Before(7)
	expectActive(t, e, a)
	obs.After(7)
	obs.PromiseResolve(7)
	expectDrained(t, e)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, _ := newTestEngine(WithRegisterer(reg))

	e.Activate(newSpan("a"), func() {
		if got := testutil.ToFloat64(e.metrics.scopes); got != 1 {
			t.Errorf("Expected 1 open scope, got %v", got)
		}
		e.ResourceCreated(1, 0)
	})
	if got := testutil.ToFloat64(e.metrics.contexts); got != 1 {
		t.Errorf("Expected 1 context, got %v", got)
	}

	e.ExecutionEnter(99)
	e.ResourceDestroyed(1)

	if got := testutil.ToFloat64(e.metrics.notifications.WithLabelValues("init")); got != 1 {
		t.Errorf("Expected 1 init notification, got %v", got)
	}
	if got := testutil.ToFloat64(e.metrics.anomalies.WithLabelValues("unknown_id")); got != 1 {
		t.Errorf("Expected 1 unknown_id anomaly, got %v", got)
	}
	if got := testutil.ToFloat64(e.metrics.contexts); got != 0 {
		t.Errorf("Expected contexts gauge back at 0, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg, "scopez_anomalies_total", "scopez_contexts")
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 exported series, got %d", count)
	}
}

func TestStrategyString(t *testing.T) {
	for s, want := range map[Strategy]string{StrategyTree: "tree", StrategyFlat: "flat", Strategy(9): "unknown"} {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
}

package scopez

import (
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/scopez/asynchook"
)

// Engine tracks the active span across asynchronous execution.
// Not safe for concurrent use; see the package documentation.
//
//nolint:govet // Field order follows the lifecycle, not alignment
type Engine struct {
	log       logrus.FieldLogger
	metrics   *metrics
	hook      *asynchook.Hook
	root      *frame
	live      *frame
	stack     []*frame
	contexts  map[ResourceID]*contextNode
	frames    map[ResourceID]*frame
	snapshots *lru.Cache[ResourceID, snapshot]
	strategy  Strategy
	nContexts int
	nFrames   int
	nScopes   int
	// nCarried counts contexts created under an activation and snapshots
	// that hold a span or were taken under one.
	nCarried int
}

// snapshot is what the flat strategy remembers per resource.
type snapshot struct {
	span    Span
	carried bool
}

// New creates an engine. Engines are independent of each other.
func New(opts ...Option) *Engine {
	o := options{
		log:          logrus.StandardLogger(),
		strategy:     StrategyTree,
		flatCapacity: DefaultFlatCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		log:      o.log,
		metrics:  newMetrics(o.registerer),
		strategy: o.strategy,
		contexts: make(map[ResourceID]*contextNode),
		frames:   make(map[ResourceID]*frame),
	}
	e.root = &frame{engine: e, refs: 1}
	e.live = e.root

	if e.strategy == StrategyFlat {
		// Only fails for a non-positive size, which options rule out.
		e.snapshots, _ = lru.NewWithEvict[ResourceID, snapshot](o.flatCapacity, func(_ ResourceID, s snapshot) {
			if s.carried {
				e.nCarried--
			}
		})
	}
	if o.runtime != nil {
		e.hook = asynchook.NewHook(o.runtime, e.Observer())
	}
	return e
}

// Strategy reports the propagation strategy in use.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Active returns the current span, or nil if there is none.
func (e *Engine) Active() Span {
	return e.live.active()
}

// Activate runs fn with span active and restores the previous state on
// every exit path, including panics, which propagate unchanged.
// Resources created while fn runs keep seeing span after it returns.
// A nil span hides any parent span while fn runs. A nil fn is ignored.
func (e *Engine) Activate(span Span, fn func()) {
	if fn == nil {
		return
	}
	if live := e.live; live.id == 0 && live != e.root && live.hasBase &&
		len(live.scopes) == 0 && sameSpan(live.base, span) {
		fn()
		return
	}

	// Nothing resolves past a base, so the frame takes no parent and
	// never keeps the frames below it alive. leave restores through e.stack.
	f := &frame{engine: e, base: span, hasBase: true}
	e.frameBorn()
	f.retain()
	e.scopeOpened()
	e.push(f)
	e.syncHook()
	defer e.leave(f)
	fn()
}

// leave ends the activation frame f and anything left running above it.
func (e *Engine) leave(f *frame) {
	e.scopeClosed()
	for f.onStack && e.live != e.root {
		top := e.live
		e.popLive()
		if top != f {
			e.anomaly("missing_after", top.id)
		}
	}
	e.syncHook()
}

// Call is Activate for functions that return a value and an error.
func Call[R any](e *Engine, span Span, fn func() (R, error)) (R, error) {
	var (
		res R
		err error
	)
	if fn == nil {
		return res, nil
	}
	e.Activate(span, func() {
		res, err = fn()
	})
	return res, err
}

// Enter activates span on the live frame until the returned scope is
// closed. The activation outlives the current callback if left open:
// later runs of the same resource still see it.
func (e *Engine) Enter(span Span, opts ...ScopeOption) *Scope {
	s := &Scope{span: span, frame: e.live}
	for _, opt := range opts {
		opt(s)
	}
	e.live.add(s)
	e.syncHook()
	return s
}

// ResourceCreated records a new async resource. It is linked to the live
// frame, or to the context of triggerID when created from top-level code.
func (e *Engine) ResourceCreated(id, triggerID ResourceID) {
	e.metrics.notifications.WithLabelValues("init").Inc()
	if id == 0 {
		e.anomaly("zero_id", id)
		return
	}

	if e.strategy == StrategyFlat {
		if old, ok := e.snapshots.Peek(id); ok && old.carried {
			e.nCarried--
		}
		span := e.Active()
		s := snapshot{span: span, carried: span != nil || e.live.inActivation()}
		if s.carried {
			e.nCarried++
		}
		if e.snapshots.Add(id, s) {
			e.anomaly("flat_evicted", id)
		}
		e.syncHook()
		return
	}

	if _, ok := e.contexts[id]; ok {
		e.anomaly("duplicate_init", id)
		return
	}

	parent := e.live
	if parent == e.root && triggerID != 0 {
		if trigger, ok := e.contexts[triggerID]; ok {
			if p := trigger.resolve(); p != nil {
				parent = p
			}
		}
	}

	c := &contextNode{engine: e, id: id, carried: parent.inActivation()}
	if c.carried {
		e.nCarried++
	}
	e.contextBorn()
	c.retain()
	c.link(parent)
	e.contexts[id] = c
	e.syncHook()
}

// ExecutionEnter makes a new frame for id live.
func (e *Engine) ExecutionEnter(id ResourceID) {
	e.metrics.notifications.WithLabelValues("before").Inc()

	var f *frame
	if e.strategy == StrategyFlat {
		s, ok := e.snapshots.Get(id)
		if !ok {
			e.anomaly("unknown_id", id)
			return
		}
		f = &frame{engine: e, id: id, base: s.span, hasBase: true}
	} else {
		c, ok := e.contexts[id]
		if !ok {
			e.anomaly("unknown_id", id)
			return
		}
		f = &frame{engine: e, id: id, context: c}
		c.retain()
		parent := c.resolve()
		if parent == nil {
			parent = e.root
		}
		f.link(parent)
	}
	e.frameBorn()
	f.retain()

	if _, ok := e.frames[id]; ok {
		e.anomaly("reentrant_before", id)
	}
	e.frames[id] = f
	e.push(f)
	e.syncHook()
}

// ExecutionExit ends the frame for id. Frames entered above it that never
// reported their own exit are ended with it.
func (e *Engine) ExecutionExit(id ResourceID) {
	e.metrics.notifications.WithLabelValues("after").Inc()

	f, ok := e.frames[id]
	if !ok {
		e.anomaly("unknown_id", id)
		return
	}
	for e.live != e.root {
		top := e.live
		e.popLive()
		if top == f {
			break
		}
		e.anomaly("missing_after", top.id)
	}
	e.syncHook()
}

// ResourceDestroyed releases the context for id.
func (e *Engine) ResourceDestroyed(id ResourceID) {
	e.metrics.notifications.WithLabelValues("destroy").Inc()
	e.forget(id)
}

// PromiseSettled is handled like ResourceDestroyed.
func (e *Engine) PromiseSettled(id ResourceID) {
	e.metrics.notifications.WithLabelValues("promise_resolve").Inc()
	e.forget(id)
}

// Stats reports what the engine still tracks.
// Under StrategyFlat, Contexts counts remembered snapshots.
func (e *Engine) Stats() Stats {
	contexts := e.nContexts
	if e.snapshots != nil {
		contexts += e.snapshots.Len()
	}
	return Stats{
		Contexts:    contexts,
		Frames:      e.nFrames,
		Scopes:      e.nScopes,
		HookEnabled: e.hook != nil && e.hook.Enabled(),
	}
}

func (e *Engine) forget(id ResourceID) {
	if e.strategy == StrategyFlat {
		if !e.snapshots.Remove(id) {
			e.anomaly("unknown_id", id)
		}
		e.syncHook()
		return
	}

	c, ok := e.contexts[id]
	if !ok {
		e.anomaly("unknown_id", id)
		return
	}
	delete(e.contexts, id)
	c.release()
	e.syncHook()
}

func (e *Engine) push(f *frame) {
	e.stack = append(e.stack, e.live)
	e.live = f
	f.onStack = true
}

func (e *Engine) popLive() {
	top := e.live
	top.onStack = false
	if cur, ok := e.frames[top.id]; top.id != 0 && ok && cur == top {
		delete(e.frames, top.id)
	}
	n := len(e.stack) - 1
	e.live = e.stack[n]
	e.stack[n] = nil
	e.stack = e.stack[:n]
	if top.id != 0 {
		e.remap(top.id)
	}

	top.exit()
	top.release()
}

// remap points id back at a lower frame of the same resource after a
// re-entrant run ended.
func (e *Engine) remap(id ResourceID) {
	if _, ok := e.frames[id]; ok {
		return
	}
	if e.live.id == id {
		e.frames[id] = e.live
		return
	}
	for i := len(e.stack) - 1; i > 0; i-- {
		if e.stack[i].id == id {
			e.frames[id] = e.stack[i]
			return
		}
	}
}

// syncHook keeps the runtime hook enabled only while something can
// still be propagated: an open scope, a running frame, or a resource
// created under an activation. Other resources resolve to no span once
// the last scope closes, so they are dropped when the hook goes off.
func (e *Engine) syncHook() {
	if e.hook == nil {
		return
	}
	want := e.nScopes > 0 || e.nCarried > 0 || len(e.frames) > 0
	if want == e.hook.Enabled() {
		return
	}
	if want {
		e.hook.Enable()
		e.metrics.hookEnabled.Set(1)
	} else {
		e.hook.Disable()
		e.metrics.hookEnabled.Set(0)
		e.dropUntracked()
	}
	e.log.WithField("enabled", want).Debug("scopez: runtime hook toggled")
}

// dropUntracked forgets every remaining resource. Their destroy
// notifications will not arrive while the hook is off.
func (e *Engine) dropUntracked() {
	n := len(e.contexts)
	for id, c := range e.contexts {
		delete(e.contexts, id)
		c.release()
	}
	if e.snapshots != nil {
		n += e.snapshots.Len()
		e.snapshots.Purge()
	}
	if n > 0 {
		e.log.WithField("resources", n).Debug("scopez: dropped resources without a span")
	}
}

func (e *Engine) anomaly(kind string, id ResourceID) {
	e.metrics.anomalies.WithLabelValues(kind).Inc()
	e.log.WithFields(logrus.Fields{
		"kind":     kind,
		"async_id": uint64(id),
	}).Debug("scopez: ignored lifecycle anomaly")
}

func (e *Engine) contextBorn() {
	e.nContexts++
	e.metrics.contexts.Inc()
}

func (e *Engine) contextGone() {
	e.nContexts--
	e.metrics.contexts.Dec()
}

func (e *Engine) frameBorn() {
	e.nFrames++
	e.metrics.frames.Inc()
}

func (e *Engine) frameGone() {
	e.nFrames--
	e.metrics.frames.Dec()
}

func (e *Engine) scopeOpened() {
	e.nScopes++
	e.metrics.scopes.Inc()
}

func (e *Engine) scopeClosed() {
	e.nScopes--
	e.metrics.scopes.Dec()
}

// sameSpan compares spans without panicking on uncomparable dynamic types.
func sameSpan(a, b Span) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

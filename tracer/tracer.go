// Package tracer starts and finishes spans on top of a scopez.Engine.
//
// New spans are parented on whatever the engine reports as active, so a
// span started inside a timer or promise callback joins the trace that
// scheduled it without the span being passed along.
package tracer

import (
	"context"
	"encoding/hex"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/scopez"
)

// SpanHandler is called with every finished span.
type SpanHandler func(rec Record)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for span timestamps.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Tracer) {
		if log != nil {
			t.log = log
		}
	}
}

// Tracer creates spans and dispatches them once finished.
// Spans are started on the engine's goroutine; handlers may be registered
// and removed from anywhere.
//
//nolint:govet // Field order follows functionality over memory
type Tracer struct {
	engine       *scopez.Engine
	clock        clockz.Clock
	log          logrus.FieldLogger
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r any)
	workers      *workerPool
	traceIDs     *IDPool
	spanIDs      *IDPool
	handlersLock sync.RWMutex
	idsOnce      sync.Once
	nextID       atomic.Uint64
	dropped      atomic.Uint64
}

// New creates a tracer that reads and sets the active span through engine.
func New(engine *scopez.Engine, opts ...Option) *Tracer {
	t := &Tracer{
		engine: engine,
		clock:  clockz.RealClock,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Engine returns the engine the tracer propagates through.
func (t *Tracer) Engine() *scopez.Engine {
	return t.engine
}

func (t *Tracer) ensureIDPools() {
	t.idsOnce.Do(func() {
		size := runtime.NumCPU() * 100
		t.traceIDs = NewIDPool(size, func() string {
			return randomHex(16, func() string {
				return hex.EncodeToString([]byte(t.clock.Now().Format(time.RFC3339Nano)))
			})
		})
		t.spanIDs = NewIDPool(size, func() string {
			return randomHex(8, func() string {
				return hex.EncodeToString([]byte(t.clock.Now().Format("15:04:05.000000")))
			})
		})
	})
}

// StartSpan starts a span named name. If the engine's active span is a
// *Span, the new span joins its trace as a child.
func (t *Tracer) StartSpan(name string) *Span {
	parent, _ := t.engine.Active().(*Span)
	return t.start(name, parent)
}

// StartSpanContext starts a span parented on the span carried by ctx.
// Use it on goroutines the engine cannot follow.
func (t *Tracer) StartSpanContext(ctx context.Context, name string) *Span {
	parent, _ := scopez.SpanFromContext(ctx).(*Span)
	return t.start(name, parent)
}

func (t *Tracer) start(name string, parent *Span) *Span {
	t.ensureIDPools()
	s := &Span{tracer: t}
	s.rec.Name = name
	s.rec.SpanID = t.spanIDs.Get()
	s.rec.StartTime = t.clock.Now()
	if parent != nil {
		s.rec.TraceID = parent.TraceID()
		s.rec.ParentID = parent.SpanID()
	} else {
		s.rec.TraceID = t.traceIDs.Get()
	}
	return s
}

// Trace runs fn inside a new span that is active for fn and anything fn
// schedules. The span is finished when fn returns or panics. An error
// from fn is tagged on the span and returned.
func (t *Tracer) Trace(name string, fn func(*Span) error) error {
	s := t.StartSpan(name)
	defer s.Finish()
	if fn == nil {
		return nil
	}
	_, err := scopez.Call(t.engine, s, func() (struct{}, error) {
		return struct{}{}, fn(s)
	})
	if err != nil {
		s.SetTag("error", err.Error())
	}
	return err
}

// OnSpanComplete registers a handler called synchronously from Finish.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.register(handler, false)
}

// OnSpanCompleteAsync registers a handler run off the finishing goroutine,
// on the worker pool when one is enabled.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.register(handler, true)
}

func (t *Tracer) register(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}
	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.handlers = append(t.handlers, handlerEntry{handler: handler, id: id, async: async})
	return id
}

// RemoveHandler unregisters a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// SetPanicHook sets a function called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r any)) {
	t.panicHook = hook
}

func (t *Tracer) complete(rec Record) {
	t.handlersLock.RLock()
	handlers := append([]handlerEntry(nil), t.handlers...)
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, rec)
			continue
		}
		entry, own := h, rec.clone()
		if t.workers != nil {
			t.workers.submit(func() { t.safeCall(entry, own) })
		} else {
			go t.safeCall(entry, own)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			t.log.WithFields(logrus.Fields{
				"handler_id": entry.id,
				"span":       rec.Name,
			}).Errorf("tracer: span handler panicked: %v", r)
			if t.panicHook != nil {
				t.panicHook(entry.id, r)
			}
		}
	}()
	entry.handler(rec)
}

// EnableWorkerPool bounds async handlers to workers goroutines and a queue
// of queueSize. Spans that do not fit the queue are dropped and counted.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if t.workers != nil {
		return errors.New("tracer: worker pool already enabled")
	}
	if workers <= 0 {
		return errors.Errorf("tracer: workers must be > 0, got %d", workers)
	}
	if queueSize <= 0 {
		return errors.Errorf("tracer: queue size must be > 0, got %d", queueSize)
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.dropped,
	}
	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}
	return nil
}

// DroppedSpans returns how many async handler calls the worker queue refused.
func (t *Tracer) DroppedSpans() uint64 {
	return t.dropped.Load()
}

// Close drops all handlers, waits for running workers and stops the ID pools.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	t.handlersLock.Unlock()

	if t.workers != nil {
		t.workers.shutdown()
		t.workers = nil
	}
	if t.traceIDs != nil {
		t.traceIDs.Close()
		t.spanIDs.Close()
	}
}

//nolint:govet // Field order follows functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}

// Package loop is a single-goroutine cooperative event loop that reports
// the lifecycle of every async resource it schedules through
// asynchook.Callbacks.
//
// Timers, immediates, promises and offloaded goroutine work are resources.
// Their callbacks run one at a time on the goroutine that called Run, with
// promise reactions drained as microtasks after every task.
//
// All Loop, Timer, Promise and Emitter methods must be called from the loop
// goroutine, except Close.
package loop

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/scopez/asynchook"
)

// ErrRunning is returned by Run when the loop is already running.
var ErrRunning = errors.New("loop: already running")

// Resource kinds reported to Init.
const (
	KindTimeout   = "Timeout"
	KindInterval  = "Interval"
	KindImmediate = "Immediate"
	KindPromise   = "PROMISE"
)

// DefaultQueueSize is the buffer for tasks posted from other goroutines.
const DefaultQueueSize = 256

type hookEntry struct {
	cb asynchook.Callbacks
}

// Loop runs tasks and reports resource lifecycles.
//
//nolint:govet // Field order groups scheduling state
type Loop struct {
	clock        clockz.Clock
	log          logrus.FieldLogger
	panicHandler func(any)
	posted       chan func()
	closed       chan struct{}
	closeOnce    sync.Once
	macro        []func()
	micro        []func()
	hooks        []*hookEntry
	current      asynchook.ID
	nextID       asynchook.ID
	pending      int
	running      bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timers.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithQueueSize sets the buffer for tasks posted by timers and offloads.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.posted = make(chan func(), n)
		}
	}
}

// WithPanicHandler recovers panics escaping a task and hands them to fn.
// Without it a panicking task stops Run by panicking.
func WithPanicHandler(fn func(any)) Option {
	return func(l *Loop) {
		l.panicHandler = fn
	}
}

// New creates a loop that is not yet running.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  clockz.RealClock,
		log:    logrus.StandardLogger(),
		posted: make(chan func(), DefaultQueueSize),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddHooks registers cb for lifecycle notifications.
// It implements asynchook.Source.
func (l *Loop) AddHooks(cb asynchook.Callbacks) func() {
	entry := &hookEntry{cb: cb}
	l.hooks = append(l.hooks, entry)
	return func() {
		kept := make([]*hookEntry, 0, len(l.hooks))
		for _, h := range l.hooks {
			if h != entry {
				kept = append(kept, h)
			}
		}
		l.hooks = kept
	}
}

// Current returns the resource whose callback is running, or 0 for
// top-level code.
func (l *Loop) Current() asynchook.ID {
	return l.current
}

// Run executes main as top-level code, then runs tasks until nothing is
// pending or ctx is done.
func (l *Loop) Run(ctx context.Context, main func()) error {
	if l.running {
		return ErrRunning
	}
	l.running = true
	defer func() {
		l.running = false
	}()

	l.log.Debug("loop: run started")
	if main != nil {
		l.runTask(main)
	}
	for {
		l.drainMicro()
		if len(l.macro) > 0 {
			task := l.macro[0]
			l.macro[0] = nil
			l.macro = l.macro[1:]
			l.runTask(task)
			continue
		}
		if l.pending == 0 {
			l.log.Debug("loop: run finished")
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "loop: run interrupted")
		case task := <-l.posted:
			l.runTask(task)
		}
	}
}

// Close stops every goroutine waiting to post work back to the loop.
// Pending timers and offloads never complete afterwards.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
}

func (l *Loop) runTask(task func()) {
	if l.panicHandler != nil {
		defer func() {
			if r := recover(); r != nil {
				l.panicHandler(r)
			}
		}()
	}
	task()
}

func (l *Loop) drainMicro() {
	for len(l.micro) > 0 {
		task := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.runTask(task)
	}
}

// post hands a task from another goroutine to the loop unless stop or
// Close fires first.
func (l *Loop) post(task func(), stop <-chan struct{}) {
	select {
	case l.posted <- task:
	case <-stop:
	case <-l.closed:
	}
}

// invoke runs fn as a callback of resource id.
func (l *Loop) invoke(id asynchook.ID, fn func()) {
	prev := l.current
	l.current = id
	for _, h := range l.hooks {
		h.cb.Before(id)
	}
	defer func() {
		for _, h := range l.hooks {
			h.cb.After(id)
		}
		l.current = prev
	}()
	fn()
}

func (l *Loop) newResource(kind string, trigger asynchook.ID) asynchook.ID {
	l.nextID++
	id := l.nextID
	for _, h := range l.hooks {
		h.cb.Init(id, trigger, kind)
	}
	return id
}

func (l *Loop) emitDestroy(id asynchook.ID) {
	for _, h := range l.hooks {
		h.cb.Destroy(id)
	}
}

func (l *Loop) emitPromiseResolve(id asynchook.ID) {
	for _, h := range l.hooks {
		h.cb.PromiseResolve(id)
	}
}

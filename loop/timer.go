package loop

import (
	"time"

	"github.com/zoobzio/scopez/asynchook"
)

// Timer is a scheduled callback: a timeout, an interval or an immediate.
type Timer struct {
	l        *Loop
	fn       func()
	stop     chan struct{}
	interval time.Duration
	id       asynchook.ID
	repeat   bool
	armed    bool
	cleared  bool
}

// SetTimeout runs fn once after d.
func (l *Loop) SetTimeout(d time.Duration, fn func()) *Timer {
	return l.schedule(KindTimeout, d, false, fn)
}

// SetInterval runs fn every d until the timer is cleared. Every run is a
// new execution of the same resource.
func (l *Loop) SetInterval(d time.Duration, fn func()) *Timer {
	return l.schedule(KindInterval, d, true, fn)
}

// SetImmediate runs fn after the current task and its microtasks.
func (l *Loop) SetImmediate(fn func()) *Timer {
	return l.schedule(KindImmediate, 0, false, fn)
}

func (l *Loop) schedule(kind string, d time.Duration, repeat bool, fn func()) *Timer {
	if repeat && d <= 0 {
		d = time.Millisecond
	}
	t := &Timer{
		l:        l,
		fn:       fn,
		stop:     make(chan struct{}),
		interval: d,
		repeat:   repeat,
	}
	t.id = l.newResource(kind, l.current)
	t.arm()
	return t
}

// ID returns the timer's resource id.
func (t *Timer) ID() asynchook.ID {
	return t.id
}

// Clear cancels the timer. It is safe to call from the timer's own
// callback and more than once.
func (t *Timer) Clear() {
	if t.cleared {
		return
	}
	t.cleared = true
	if t.armed {
		t.armed = false
		t.l.pending--
	}
	close(t.stop)
	t.l.emitDestroy(t.id)
}

func (t *Timer) arm() {
	if t.interval <= 0 {
		t.l.macro = append(t.l.macro, t.fire)
		return
	}
	// After is taken on the loop goroutine so fake clocks see the waiter
	// before Run blocks.
	ch := t.l.clock.After(t.interval)
	t.armed = true
	t.l.pending++
	go func() {
		select {
		case <-ch:
			t.l.post(t.fire, t.stop)
		case <-t.stop:
		case <-t.l.closed:
		}
	}()
}

func (t *Timer) fire() {
	if t.cleared {
		return
	}
	if t.armed {
		t.armed = false
		t.l.pending--
	}
	defer t.settle()
	if t.fn != nil {
		t.l.invoke(t.id, t.fn)
	}
}

func (t *Timer) settle() {
	if t.cleared {
		return
	}
	if t.repeat {
		t.arm()
		return
	}
	t.cleared = true
	close(t.stop)
	t.l.emitDestroy(t.id)
}

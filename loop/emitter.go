package loop

import "github.com/zoobzio/scopez/asynchook"

type listenerEntry struct {
	fn      asynchook.Listener
	once    bool
	removed bool
}

// Emitter calls listeners synchronously from Emit. It is not an async
// resource, so listeners run under whatever the emitting code has active,
// not what was active when they were added.
type Emitter struct {
	listeners map[string][]*listenerEntry
}

// NewEmitter creates an emitter without listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*listenerEntry)}
}

// On adds l for event and returns a function that removes it.
func (em *Emitter) On(event string, l asynchook.Listener) func() {
	return em.add(event, l, false)
}

// Once adds l for a single emission of event.
func (em *Emitter) Once(event string, l asynchook.Listener) func() {
	return em.add(event, l, true)
}

func (em *Emitter) add(event string, l asynchook.Listener, once bool) func() {
	if l == nil {
		return func() {}
	}
	entry := &listenerEntry{fn: l, once: once}
	em.listeners[event] = append(em.listeners[event], entry)
	return func() {
		em.remove(event, entry)
	}
}

func (em *Emitter) remove(event string, entry *listenerEntry) {
	if entry.removed {
		return
	}
	entry.removed = true
	current := em.listeners[event]
	kept := make([]*listenerEntry, 0, len(current))
	for _, e := range current {
		if e != entry {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(em.listeners, event)
		return
	}
	em.listeners[event] = kept
}

// Emit calls the listeners registered for event in registration order.
func (em *Emitter) Emit(event string, args ...any) bool {
	entries := em.listeners[event]
	if len(entries) == 0 {
		return false
	}
	for _, entry := range entries {
		if entry.removed {
			continue
		}
		if entry.once {
			em.remove(event, entry)
		}
		entry.fn(args...)
	}
	return true
}

// ListenerCount returns how many listeners event has.
func (em *Emitter) ListenerCount(event string) int {
	return len(em.listeners[event])
}

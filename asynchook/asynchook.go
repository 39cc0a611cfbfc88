// Package asynchook is the boundary between a host runtime that schedules
// asynchronous work and anything that wants to observe it.
//
// A runtime reports five lifecycle notifications per async resource:
//
//   - Init: a resource was created while triggerID was executing.
//   - Before: the runtime is about to run a callback owned by the resource.
//   - After: that callback returned control to the runtime.
//   - Destroy: the resource can never run again.
//   - PromiseResolve: a promise resource settled.
//
// Observers register through a Source and are only called while their Hook
// is enabled.
package asynchook

// ID identifies an async resource for its whole lifetime.
// The zero ID means "no resource" (top-level code).
type ID uint64

// Callbacks receives lifecycle notifications from a Source.
// Implementations must tolerate unknown ids and any ordering of calls.
type Callbacks interface {
	Init(id, triggerID ID, kind string)
	Before(id ID)
	After(id ID)
	Destroy(id ID)
	PromiseResolve(id ID)
}

// Source is a host runtime that can deliver notifications.
// AddHooks registers cb and returns a function that unregisters it.
type Source interface {
	AddHooks(cb Callbacks) (remove func())
}

// Hook toggles the registration of one Callbacks on a Source.
// Not safe for concurrent use.
type Hook struct {
	src    Source
	cb     Callbacks
	remove func()
}

// NewHook creates a disabled hook.
func NewHook(src Source, cb Callbacks) *Hook {
	return &Hook{src: src, cb: cb}
}

// Enable starts delivery. Calling it on an enabled hook is a no-op.
func (h *Hook) Enable() {
	if h.remove != nil || h.src == nil {
		return
	}
	h.remove = h.src.AddHooks(h.cb)
}

// Disable stops delivery. Calling it on a disabled hook is a no-op.
func (h *Hook) Disable() {
	if h.remove == nil {
		return
	}
	remove := h.remove
	h.remove = nil
	remove()
}

// Enabled reports whether notifications are being delivered.
func (h *Hook) Enabled() bool {
	return h.remove != nil
}

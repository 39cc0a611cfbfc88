// Package scopez tracks which span is current as control flows through
// asynchronous callbacks, without call sites threading the span through.
//
// scopez is the propagation core of a tracer. It never inspects spans
// beyond calling Finish, and it knows nothing about how spans are exported.
//
// Core Components:
//   - Engine: answers Active() and runs code under Activate().
//   - Scope: one activation of a span, closed by its owner.
//   - Binder helpers: re-activate a captured span inside callbacks,
//     emitters and promises the runtime cannot follow on its own.
//
// Basic Usage:
//
//	engine := scopez.New(scopez.WithRuntime(eventLoop))
//
//	engine.Activate(span, func() {
//		// engine.Active() == span here, and inside any timer,
//		// promise or immediate scheduled from here.
//	})
//
// Async Model:
//
// The engine consumes lifecycle notifications from an asynchook.Source.
// Every async resource gets a context node linked to the execution frame
// that created it. Every run of a resource's callback gets a fresh frame.
// Active() reads the top of the live frame's scope stack and otherwise
// walks up the frame chain.
//
// Thread Safety:
//
// An Engine is NOT safe for concurrent use. All calls must happen on the
// goroutine that runs the host event loop. Work handed to other goroutines
// carries its span in a context.Context (see Engine.Context).
//
// Memory Management:
//
// Context nodes and frames are reference counted and unlink themselves as
// soon as nothing can make them active again. Stats reports what is still
// tracked.
package scopez

import "github.com/zoobzio/scopez/asynchook"

// Span is a unit of work owned by the tracing layer.
type Span interface {
	Finish()
}

// ResourceID identifies an async resource reported by the runtime.
type ResourceID = asynchook.ID

// Strategy selects how resources inherit their span.
type Strategy int

const (
	// StrategyTree links resources and frames into a reference counted tree.
	StrategyTree Strategy = iota
	// StrategyFlat snapshots the active span per resource id. Simpler, but
	// a frame that exits with scopes still open is not seen on re-entry.
	StrategyFlat
)

func (s Strategy) String() string {
	switch s {
	case StrategyTree:
		return "tree"
	case StrategyFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of what an engine still tracks.
type Stats struct {
	Contexts    int
	Frames      int
	Scopes      int
	HookEnabled bool
}

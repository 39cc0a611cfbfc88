package asynchook

// Listener is an event callback.
type Listener func(args ...any)

// Emitter delivers named events to listeners synchronously, on the
// goroutine that calls Emit.
type Emitter interface {
	// On adds a listener and returns a function that removes it.
	On(event string, l Listener) (off func())
	// Once adds a listener that is removed after its first call.
	Once(event string, l Listener) (off func())
	// Emit calls every listener for event and reports whether there were any.
	Emit(event string, args ...any) bool
	ListenerCount(event string) int
}

// Thenable is a value that settles at most once, either fulfilled with a
// value or rejected with an error.
//
// Then registers handlers and returns a new Thenable that settles with
// the handler's result. A nil handler passes the outcome through.
type Thenable interface {
	Then(onFulfilled func(any) (any, error), onRejected func(error) (any, error)) Thenable
}

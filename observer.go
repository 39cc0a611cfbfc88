package scopez

import "github.com/zoobzio/scopez/asynchook"

// observer translates runtime notifications into engine calls.
type observer struct {
	engine *Engine
}

// Observer returns the engine's asynchook.Callbacks. It is registered
// automatically when the engine was built WithRuntime; use it directly to
// drive an engine from a custom source.
func (e *Engine) Observer() asynchook.Callbacks {
	return observer{engine: e}
}

func (o observer) Init(id, triggerID asynchook.ID, _ string) {
	o.engine.ResourceCreated(id, triggerID)
}

func (o observer) Before(id asynchook.ID) {
	o.engine.ExecutionEnter(id)
}

func (o observer) After(id asynchook.ID) {
	o.engine.ExecutionExit(id)
}

func (o observer) Destroy(id asynchook.ID) {
	o.engine.ResourceDestroyed(id)
}

func (o observer) PromiseResolve(id asynchook.ID) {
	o.engine.PromiseSettled(id)
}

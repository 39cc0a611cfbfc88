package scopez

// linkable is anything a frame can be the parent of: the context nodes
// created while it ran and the frames that inherit from it.
type linkable interface {
	link(p *frame)
}

// frame is one synchronous run of code tied to a context node.
//
// Activation frames have no context and no parent: they carry the span of
// one Activate call as base, so resources created during the call keep
// seeing it.
//
// refs counts the runtime while the frame is live, each open scope and
// each attached child. The root frame is never released.
type frame struct {
	engine   *Engine
	context  *contextNode
	parent   *frame
	base     Span
	scopes   []*Scope
	children map[linkable]struct{}
	id       ResourceID
	refs     int
	hasBase  bool
	onStack  bool
	exited   bool
	dead     bool
}

// active resolves the current span starting at f.
// Empty frames are walked through without allocating.
func (f *frame) active() Span {
	for cur := f; cur != nil; cur = cur.parent {
		if n := len(cur.scopes); n > 0 {
			return cur.scopes[n-1].span
		}
		if cur.hasBase {
			return cur.base
		}
	}
	return nil
}

// inActivation reports whether f or one of its ancestors carries a base.
func (f *frame) inActivation() bool {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.hasBase {
			return true
		}
	}
	return false
}

func (f *frame) add(s *Scope) {
	f.scopes = append(f.scopes, s)
	f.retain()
	f.engine.scopeOpened()
}

// remove drops s by identity. Closing out of push order is allowed.
func (f *frame) remove(s *Scope) bool {
	idx := -1
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if f.scopes[i] == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	copy(f.scopes[idx:], f.scopes[idx+1:])
	f.scopes[len(f.scopes)-1] = nil
	f.scopes = f.scopes[:len(f.scopes)-1]

	if f.exited && f.inert() {
		f.bypass()
	}
	f.engine.scopeClosed()
	f.release()
	return true
}

// exit marks the end of the synchronous run. The caller still owns the
// live reference and releases it afterwards.
func (f *frame) exit() {
	if f.exited {
		return
	}
	f.exited = true
	if f.inert() {
		f.bypass()
		return
	}
	if f.context != nil && !f.context.dead {
		f.context.pending = f
	}
}

// inert reports whether f resolves nothing of its own.
func (f *frame) inert() bool {
	return len(f.scopes) == 0 && !f.hasBase
}

// bypass relinks every child to f's parent so nothing resolves through
// an exited frame that has no scope left.
func (f *frame) bypass() {
	if f.context != nil && f.context.pending == f {
		f.context.pending = nil
	}
	if f.parent == nil || len(f.children) == 0 {
		return
	}
	children := make([]linkable, 0, len(f.children))
	for child := range f.children {
		children = append(children, child)
	}
	for _, child := range children {
		child.link(f.parent)
	}
}

func (f *frame) attach(child linkable) {
	if f.children == nil {
		f.children = make(map[linkable]struct{})
	}
	f.children[child] = struct{}{}
}

func (f *frame) detach(child linkable) {
	delete(f.children, child)
}

func (f *frame) link(p *frame) {
	if p == f.parent {
		return
	}
	for a := p; a != nil; a = a.parent {
		if a == f {
			f.engine.anomaly("cyclic_link", f.id)
			return
		}
	}
	if p != nil {
		p.retain()
		p.attach(f)
	}
	old := f.parent
	f.parent = p
	if old != nil {
		old.detach(f)
		old.release()
	}
}

func (f *frame) retain() {
	if f.dead {
		f.engine.anomaly("retain_dead_frame", f.id)
		return
	}
	f.refs++
}

func (f *frame) release() {
	if f.refs <= 0 {
		f.engine.anomaly("negative_refcount", f.id)
		return
	}
	f.refs--
	if f.refs > 0 || f == f.engine.root {
		return
	}
	f.dead = true
	f.link(nil)
	if f.context != nil {
		if f.context.pending == f {
			f.context.pending = nil
		}
		f.context.release()
	}
	f.engine.frameGone()
}

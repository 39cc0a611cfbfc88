package scopez

// contextNode is the propagation context of one async resource.
//
// Its parent is the frame that was live when the resource was created.
// The node holds a reference on that frame so the frame's scopes stay
// resolvable until the resource can no longer run.
type contextNode struct {
	engine *Engine
	parent *frame
	// pending is the most recent frame of this resource that exited with
	// scopes still open. Re-entries chain to it instead of to parent.
	pending *frame
	id      ResourceID
	refs    int
	// carried is set when the resource was created under an activation.
	carried bool
	dead    bool
}

func (c *contextNode) retain() {
	if c.dead {
		c.engine.anomaly("retain_dead_context", c.id)
		return
	}
	c.refs++
}

func (c *contextNode) release() {
	if c.refs <= 0 {
		c.engine.anomaly("negative_refcount", c.id)
		return
	}
	c.refs--
	if c.refs > 0 {
		return
	}
	c.unlink()
	c.pending = nil
	c.dead = true
	if c.carried {
		c.engine.nCarried--
	}
	c.engine.contextGone()
}

// link points c at p. The new parent is retained before the old one is
// released so a shared ancestor never drops to zero in between.
func (c *contextNode) link(p *frame) {
	if p == c.parent {
		return
	}
	if p != nil {
		p.retain()
		p.attach(c)
	}
	old := c.parent
	c.parent = p
	if old != nil {
		old.detach(c)
		old.release()
	}
}

func (c *contextNode) unlink() {
	c.link(nil)
}

// resolve returns the frame a new execution of this resource inherits from.
func (c *contextNode) resolve() *frame {
	if c.pending != nil && !c.pending.dead {
		return c.pending
	}
	return c.parent
}

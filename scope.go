package scopez

// Scope is one activation of a span on an execution frame.
// Close it exactly where the activation should end; extra calls are no-ops.
type Scope struct {
	span          Span
	frame         *frame
	finishOnClose bool
	closed        bool
}

// ScopeOption configures a Scope created by Engine.Enter.
type ScopeOption func(*Scope)

// FinishOnClose makes Close call the span's Finish.
func FinishOnClose() ScopeOption {
	return func(s *Scope) {
		s.finishOnClose = true
	}
}

// Span returns the activated span. It is nil for a masking scope.
func (s *Scope) Span() Span {
	return s.span
}

// Close ends the activation. The span is finished at most once.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true

	e := s.frame.engine
	s.frame.remove(s)
	e.syncHook()

	if s.finishOnClose && s.span != nil {
		s.span.Finish()
	}
}

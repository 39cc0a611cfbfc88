package tracer

import (
	"sync"
	"time"
)

// Record is the exported form of a finished span.
//
//nolint:govet // Field alignment follows JSON serialization order
type Record struct {
	Tags      map[string]string `json:"tags,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration"`
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Name      string            `json:"name"`
}

// clone copies r, tags included.
func (r Record) clone() Record {
	if r.Tags != nil {
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		r.Tags = tags
	}
	return r
}

// Span is a unit of work started by a Tracer. It satisfies scopez.Span.
// Tag access is safe from any goroutine; the span is finished once.
type Span struct {
	tracer   *Tracer
	rec      Record
	mu       sync.Mutex
	finished bool
}

// SetTag adds a key-value pair. Finished spans ignore it.
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	if s.rec.Tags == nil {
		s.rec.Tags = make(map[string]string)
	}
	s.rec.Tags[key] = value
}

// Tag returns the value stored for key.
func (s *Span) Tag(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rec.Tags[key]
	return v, ok
}

// Finish stamps the end time and hands the span to the tracer's handlers.
// Later calls are no-ops.
func (s *Span) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.rec.EndTime = s.tracer.clock.Now()
	s.rec.Duration = s.rec.EndTime.Sub(s.rec.StartTime)
	done := s.rec.clone()
	s.mu.Unlock()

	s.tracer.complete(done)
}

// Finished reports whether Finish was called.
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Name returns the operation name.
func (s *Span) Name() string {
	return s.rec.Name
}

// TraceID returns the id shared by every span of the trace.
func (s *Span) TraceID() string {
	return s.rec.TraceID
}

// SpanID returns the span's own id.
func (s *Span) SpanID() string {
	return s.rec.SpanID
}

// ParentID returns the parent span's id, empty for a root span.
func (s *Span) ParentID() string {
	return s.rec.ParentID
}

// Record returns a copy of the span's current state.
func (s *Span) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.clone()
}

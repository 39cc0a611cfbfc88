package tracer

import (
	"sync"
	"sync/atomic"
)

// DefaultRecorderCapacity is used when NewRecorder gets a non-positive size.
const DefaultRecorderCapacity = 1024

// Recorder buffers finished spans until they are exported.
// It drops spans instead of growing past its capacity.
// Safe for concurrent use.
type Recorder struct {
	records  []Record
	capacity int
	dropped  atomic.Int64
	mu       sync.Mutex
}

// NewRecorder creates a recorder holding at most capacity spans.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{
		records:  make([]Record, 0, min(capacity, 32)),
		capacity: capacity,
	}
}

// Attach registers the recorder on t and returns the handler id.
func (r *Recorder) Attach(t *Tracer) uint64 {
	return t.OnSpanComplete(r.Collect)
}

// Collect stores a copy of rec. It is a SpanHandler.
func (r *Recorder) Collect(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.capacity {
		r.dropped.Add(1)
		return
	}
	r.records = append(r.records, rec.clone())
}

// Export returns the buffered spans and empties the buffer.
func (r *Recorder) Export() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return nil
	}
	out := r.records
	// Shrink after a burst so an idle recorder does not pin it.
	if c := cap(out); c > 256 && len(out) < c/8 {
		r.records = make([]Record, 0, c/4)
	} else {
		r.records = make([]Record, 0, cap(out))
	}
	return out
}

// Count returns how many spans are buffered.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Dropped returns how many spans were refused because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Reset empties the buffer and zeroes the dropped counter.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = r.records[:0]
	r.dropped.Store(0)
}

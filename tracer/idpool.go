package tracer

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// IDPool hands out pre-generated IDs so crypto/rand is not on the hot path.
type IDPool struct {
	factory func() string
	ids     chan string
	stop    chan struct{}
	once    sync.Once
}

// NewIDPool starts a pool that keeps up to capacity IDs ready.
func NewIDPool(capacity int, factory func() string) *IDPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &IDPool{
		factory: factory,
		ids:     make(chan string, capacity),
		stop:    make(chan struct{}),
	}
	go p.fill()
	return p
}

// Get returns a pooled ID, or a fresh one when the pool is drained.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) fill() {
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stop:
			return
		}
	}
}

// Close stops the background refill. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
}

// randomHex returns n random bytes hex encoded, or fallback() if the
// system source fails.
func randomHex(n int, fallback func() string) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fallback()
	}
	return hex.EncodeToString(buf)
}

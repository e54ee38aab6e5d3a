package fragment

import (
	"context"
	"sync"
	"sync/atomic"
)

// Readiness counts exchanges that still wait for their senders.
type Readiness struct {
	remaining atomic.Int64
	ready     chan struct{}
	once      sync.Once
}

// NewReadiness returns a counter at n. A counter at or below zero is ready.
func NewReadiness(n int) *Readiness {
	r := &Readiness{ready: make(chan struct{})}
	r.remaining.Store(int64(n))
	if n <= 0 {
		r.signal()
	}
	return r
}

// Decrement lowers the counter and returns the new value. The Ready channel
// closes when it reaches zero.
func (r *Readiness) Decrement() int64 {
	v := r.remaining.Add(-1)
	if v == 0 {
		r.signal()
	}
	return v
}

func (r *Readiness) signal() {
	r.once.Do(func() { close(r.ready) })
}

// Remaining returns the current value.
func (r *Readiness) Remaining() int64 {
	return r.remaining.Load()
}

// Ready is closed once the counter reaches zero.
func (r *Readiness) Ready() <-chan struct{} {
	return r.ready
}

// IsReady reports whether the counter reached zero.
func (r *Readiness) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the counter reaches zero or ctx ends.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

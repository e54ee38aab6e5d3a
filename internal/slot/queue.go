package slot

import (
	"context"
	"sync"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// queue is an unbounded FIFO of batches with a blocking, cancellable pop.
// Waiters park on notify, which is closed and replaced on every state change.
type queue struct {
	mu       sync.Mutex
	items    []*batch.RawBatch
	bytes    int64
	closed   bool
	notify   chan struct{}
	enqueued int64
	dequeued int64
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{})}
}

// broadcast wakes every blocked consumer. Caller holds mu.
func (q *queue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// push appends b, or prepends it when front is set. onPush runs under the
// lock after a successful push.
func (q *queue) push(b *batch.RawBatch, front bool, onPush func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(b, front, onPush)
}

// pushLocked is push for callers already holding mu.
func (q *queue) pushLocked(b *batch.RawBatch, front bool, onPush func()) error {
	if q.closed {
		return errors.ErrSlotClosed
	}

	if front {
		q.items = append(q.items, nil)
		copy(q.items[1:], q.items)
		q.items[0] = b
	} else {
		q.items = append(q.items, b)
	}
	q.bytes += b.Size()
	q.enqueued++

	if onPush != nil {
		onPush()
	}
	q.broadcast()
	return nil
}

// pop removes the head batch, blocking until one is available, the queue is
// closed and empty, or ctx ends. onPop runs under the lock with the removed
// batch.
func (q *queue) pop(ctx context.Context, onPop func(b *batch.RawBatch)) (*batch.RawBatch, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.bytes -= b.Size()
			q.dequeued++
			if onPop != nil {
				onPop(b)
			}
			q.mu.Unlock()
			return b, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, errors.ErrEndOfData
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// peekSignal reports whether the head of the queue is an out-of-memory
// signal. Caller holds mu.
func (q *queue) peekSignal() bool {
	return len(q.items) > 0 && q.items[0].IsSignal()
}

// close marks the queue closed. It reports whether this call closed it.
func (q *queue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.broadcast()
	return true
}

// stats returns a snapshot. Caller holds mu.
func (q *queue) stats() slot.Stats {
	return slot.Stats{
		Queued:      len(q.items),
		QueuedBytes: q.bytes,
		Enqueued:    q.enqueued,
		Dequeued:    q.dequeued,
		Closed:      q.closed,
	}
}

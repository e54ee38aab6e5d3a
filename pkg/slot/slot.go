// Package slot defines the buffer slot contract between the collector and the
// consuming operator.
//
// A slot holds arrived batches for one logical input of the consuming
// operator. Several senders may feed the same slot; batches from one sender
// keep their arrival order, batches from different senders interleave in
// whatever order they arrived.
package slot

import (
	"context"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
)

// Slot queues batches for one consumer input.
// All implementations must be thread-safe.
type Slot interface {
	// Enqueue accepts one batch. It never drops a batch; after Close it
	// returns errors.ErrSlotClosed.
	Enqueue(b *batch.RawBatch) error

	// Dequeue removes the next batch, blocking until one is available.
	// It returns errors.ErrEndOfData once the slot is closed and drained, or
	// ctx.Err() if the context ends first.
	Dequeue(ctx context.Context) (*batch.RawBatch, error)

	// Close marks that no further batches will be delivered and wakes every
	// blocked consumer. Close is idempotent.
	Close()

	// Stats returns a snapshot of the slot.
	Stats() Stats
}

// Stats is a point-in-time view of a slot.
type Stats struct {
	Queued      int
	QueuedBytes int64
	Enqueued    int64
	Dequeued    int64
	Paused      bool
	Closed      bool
}

// ReadController pauses and resumes the connections feeding a collector.
type ReadController interface {
	// SetAutoRead applies to every bound connection.
	SetAutoRead(enabled bool)

	// SetSenderAutoRead applies to the connection bound for one sender
	// position. It is a no-op while no connection is bound.
	SetSenderAutoRead(position int, enabled bool)
}

// Observer receives slot level measurements.
type Observer interface {
	SetSlotDepth(id batch.SlotID, depth float64)
	IncBackpressure(id batch.SlotID, paused bool)
}

// Settings is the execution context handed to a slot constructor.
type Settings struct {
	ID batch.SlotID

	// Senders lists the positions routed to the slot. Empty means every
	// sender feeds it. A slot only pauses and resumes these senders.
	Senders []int

	// SoftLimitPerSender is the queued batch count per feeding sender above
	// which an unlimited slot pauses its senders.
	SoftLimitPerSender int

	// HighWatermarkBytes and LowWatermarkBytes bound the bytes a single
	// sender may have queued in an accounted slot.
	HighWatermarkBytes int64
	LowWatermarkBytes  int64

	Logger   *zap.Logger
	Observer Observer
}

// Constructor builds a slot fed by senderCount senders.
type Constructor func(settings Settings, rc ReadController, senderCount int) (Slot, error)

package slot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// Ensure implementation satisfies interface at compile time.
var _ slot.Slot = (*Accounted)(nil)

// Accounted tracks queued bytes per sender. A sender whose queued bytes reach
// the high watermark is paused on its own; it resumes once consumption brings
// it to the low watermark. Other senders keep flowing.
type Accounted struct {
	q        *queue
	rc       slot.ReadController
	id       batch.SlotID
	high     int64
	low      int64
	logger   *zap.Logger
	observer slot.Observer

	// guarded by q.mu
	outstanding []int64
	paused      []bool
}

// NewAccounted builds an Accounted slot. It satisfies slot.Constructor.
func NewAccounted(settings slot.Settings, rc slot.ReadController, senderCount int) (slot.Slot, error) {
	if rc == nil {
		return nil, fmt.Errorf("read controller is required")
	}
	if senderCount <= 0 {
		return nil, fmt.Errorf("sender count must be positive, got %d", senderCount)
	}
	if settings.HighWatermarkBytes <= 0 {
		return nil, fmt.Errorf("high watermark must be positive, got %d", settings.HighWatermarkBytes)
	}
	if settings.LowWatermarkBytes < 0 || settings.LowWatermarkBytes >= settings.HighWatermarkBytes {
		return nil, fmt.Errorf("low watermark must be in [0, %d), got %d",
			settings.HighWatermarkBytes, settings.LowWatermarkBytes)
	}

	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Accounted{
		q:           newQueue(),
		rc:          rc,
		id:          settings.ID,
		high:        settings.HighWatermarkBytes,
		low:         settings.LowWatermarkBytes,
		logger:      logger.With(zap.Stringer("slot", settings.ID)),
		observer:    settings.Observer,
		outstanding: make([]int64, senderCount),
		paused:      make([]bool, senderCount),
	}, nil
}

// Enqueue appends a batch and charges its size to the sender.
func (a *Accounted) Enqueue(b *batch.RawBatch) error {
	if b == nil {
		return fmt.Errorf("enqueue %s: nil batch", a.id)
	}

	pos := b.Header.SenderPosition
	return a.q.push(b, false, func() {
		if a.tracked(pos) {
			a.outstanding[pos] += b.Size()
			if !a.paused[pos] && a.outstanding[pos] >= a.high {
				a.paused[pos] = true
				a.logger.Debug("sender over high watermark, pausing",
					zap.Int("sender", pos),
					zap.Int64("outstanding_bytes", a.outstanding[pos]),
				)
				a.rc.SetSenderAutoRead(pos, false)
				if a.observer != nil {
					a.observer.IncBackpressure(a.id, true)
				}
			}
		}
		if a.observer != nil {
			a.observer.SetSlotDepth(a.id, float64(len(a.q.items)))
		}
	})
}

// Dequeue removes the next batch and credits its size back to the sender.
func (a *Accounted) Dequeue(ctx context.Context) (*batch.RawBatch, error) {
	return a.q.pop(ctx, func(b *batch.RawBatch) {
		pos := b.Header.SenderPosition
		if a.tracked(pos) {
			a.outstanding[pos] -= b.Size()
			if a.paused[pos] && a.outstanding[pos] <= a.low {
				a.paused[pos] = false
				a.logger.Debug("sender under low watermark, resuming",
					zap.Int("sender", pos),
					zap.Int64("outstanding_bytes", a.outstanding[pos]),
				)
				a.rc.SetSenderAutoRead(pos, true)
				if a.observer != nil {
					a.observer.IncBackpressure(a.id, false)
				}
			}
		}
		if a.observer != nil {
			a.observer.SetSlotDepth(a.id, float64(len(a.q.items)))
		}
	})
}

// Close marks the slot closed and wakes blocked consumers.
func (a *Accounted) Close() {
	if a.q.close() {
		a.logger.Debug("slot closed")
	}
}

// Stats returns a snapshot of the slot.
func (a *Accounted) Stats() slot.Stats {
	a.q.mu.Lock()
	defer a.q.mu.Unlock()

	stats := a.q.stats()
	for _, p := range a.paused {
		if p {
			stats.Paused = true
			break
		}
	}
	return stats
}

// Outstanding returns the bytes queued for one sender.
func (a *Accounted) Outstanding(position int) int64 {
	a.q.mu.Lock()
	defer a.q.mu.Unlock()

	if !a.tracked(position) {
		return 0
	}
	return a.outstanding[position]
}

func (a *Accounted) tracked(pos int) bool {
	return pos >= 0 && pos < len(a.outstanding)
}

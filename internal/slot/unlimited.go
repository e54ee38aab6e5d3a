package slot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// Ensure implementation satisfies interface at compile time.
var _ slot.Slot = (*Unlimited)(nil)

// Unlimited is a slot without a hard capacity. Once the queue holds the soft
// limit it pauses the senders routed to it, and resumes them when consumption
// brings it back under half of that. Senders feeding other slots are never
// touched, so several Unlimited slots can share one ReadController.
//
// Out-of-memory signals are moved to the head of the queue so the consumer
// sees them first. While one is still pending, later signals coalesce into it.
type Unlimited struct {
	q          *queue
	rc         slot.ReadController
	id         batch.SlotID
	feeders    []int
	softLimit  int
	startLimit int
	logger     *zap.Logger
	observer   slot.Observer

	// guarded by q.mu
	overLimit bool
	feeds     []bool
	seen      []bool
	paused    []bool
}

// NewUnlimited builds an Unlimited slot. It satisfies slot.Constructor.
func NewUnlimited(settings slot.Settings, rc slot.ReadController, senderCount int) (slot.Slot, error) {
	if rc == nil {
		return nil, fmt.Errorf("read controller is required")
	}
	if senderCount <= 0 {
		return nil, fmt.Errorf("sender count must be positive, got %d", senderCount)
	}
	if settings.SoftLimitPerSender <= 0 {
		return nil, fmt.Errorf("soft limit per sender must be positive, got %d", settings.SoftLimitPerSender)
	}

	feeders, err := feedingSenders(settings.Senders, senderCount)
	if err != nil {
		return nil, err
	}
	feeds := make([]bool, senderCount)
	for _, pos := range feeders {
		feeds[pos] = true
	}

	softLimit := settings.SoftLimitPerSender * len(feeders)
	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Unlimited{
		q:          newQueue(),
		rc:         rc,
		id:         settings.ID,
		feeders:    feeders,
		softLimit:  softLimit,
		startLimit: max(softLimit/2, 1),
		logger:     logger.With(zap.Stringer("slot", settings.ID)),
		observer:   settings.Observer,
		feeds:      feeds,
		seen:       make([]bool, senderCount),
		paused:     make([]bool, senderCount),
	}, nil
}

// feedingSenders returns the positions routed to a slot, defaulting to all.
func feedingSenders(senders []int, senderCount int) ([]int, error) {
	if len(senders) == 0 {
		all := make([]int, senderCount)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[int]bool, len(senders))
	for _, pos := range senders {
		if pos < 0 || pos >= senderCount {
			return nil, fmt.Errorf("sender %d out of range [0, %d)", pos, senderCount)
		}
		if seen[pos] {
			return nil, fmt.Errorf("sender %d listed twice", pos)
		}
		seen[pos] = true
	}
	return append([]int(nil), senders...), nil
}

// Enqueue adds a batch to the tail, or an out-of-memory signal to the head.
func (u *Unlimited) Enqueue(b *batch.RawBatch) error {
	if b == nil {
		return fmt.Errorf("enqueue %s: nil batch", u.id)
	}

	pos := b.Header.SenderPosition
	if b.IsSignal() {
		u.q.mu.Lock()
		defer u.q.mu.Unlock()
		if u.q.peekSignal() {
			return nil
		}
		return u.q.pushLocked(b, true, func() { u.afterPush(pos) })
	}

	return u.q.push(b, false, func() { u.afterPush(pos) })
}

func (u *Unlimited) afterPush(pos int) {
	depth := len(u.q.items)
	fed := u.fedBy(pos)
	if fed {
		u.seen[pos] = true
	}

	switch {
	case !u.overLimit && depth >= u.softLimit:
		u.overLimit = true
		u.logger.Debug("slot over soft limit, pausing senders",
			zap.Int("depth", depth),
			zap.Int("soft_limit", u.softLimit),
			zap.Ints("senders", u.feeders),
		)
		for _, p := range u.feeders {
			u.rc.SetSenderAutoRead(p, false)
			u.paused[p] = u.seen[p]
		}
		if u.observer != nil {
			u.observer.IncBackpressure(u.id, true)
		}

	case u.overLimit && fed && !u.paused[pos]:
		// the sender had not delivered yet when the slot went over its limit
		u.paused[pos] = true
		u.rc.SetSenderAutoRead(pos, false)
	}

	if u.observer != nil {
		u.observer.SetSlotDepth(u.id, float64(depth))
	}
}

func (u *Unlimited) fedBy(pos int) bool {
	return pos >= 0 && pos < len(u.feeds) && u.feeds[pos]
}

// Dequeue removes the next batch, blocking until one is available.
func (u *Unlimited) Dequeue(ctx context.Context) (*batch.RawBatch, error) {
	return u.q.pop(ctx, func(*batch.RawBatch) {
		depth := len(u.q.items)
		if u.overLimit && depth < u.startLimit {
			u.overLimit = false
			u.logger.Debug("slot under start limit, resuming senders",
				zap.Int("depth", depth),
				zap.Int("start_limit", u.startLimit),
			)
			for _, p := range u.feeders {
				u.paused[p] = false
				u.rc.SetSenderAutoRead(p, true)
			}
			if u.observer != nil {
				u.observer.IncBackpressure(u.id, false)
			}
		}
		if u.observer != nil {
			u.observer.SetSlotDepth(u.id, float64(depth))
		}
	})
}

// Close marks the slot closed and wakes blocked consumers.
func (u *Unlimited) Close() {
	if u.q.close() {
		u.logger.Debug("slot closed")
	}
}

// Stats returns a snapshot of the slot.
func (u *Unlimited) Stats() slot.Stats {
	u.q.mu.Lock()
	defer u.q.mu.Unlock()

	stats := u.q.stats()
	stats.Paused = u.overLimit
	return stats
}

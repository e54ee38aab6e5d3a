package collector

import (
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// For any sender count, readiness mode and interleaving, exactly one
// BatchArrived call returns true and the parent counter is decremented once.
// Every slot then yields each sender's batches in sequence order.
func TestPropertyReadinessExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		senders := rapid.IntRange(1, 8).Draw(rt, "senders")
		outOfOrder := rapid.Bool().Draw(rt, "outOfOrder")
		minInputs := rapid.IntRange(1, senders).Draw(rt, "minInputs")
		perSender := rapid.IntRange(1, 6).Draw(rt, "perSender")

		h := newHarness(rt, zap.NewNop(), newReceiver(1, senders, outOfOrder), minInputs, nil)

		var readies atomic.Int32
		var wg sync.WaitGroup
		errs := make(chan error, senders*perSender)
		for pos := 0; pos < senders; pos++ {
			wg.Add(1)
			go func(pos int) {
				defer wg.Done()
				for seq := 0; seq < perSender; seq++ {
					ready, err := h.c.BatchArrived(pos, h.batch(pos, int64(seq), seq == perSender-1))
					if err != nil {
						errs <- err
						return
					}
					if ready {
						readies.Add(1)
					}
				}
			}(pos)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			rt.Fatalf("BatchArrived() error = %v", err)
		}

		if got := readies.Load(); got != 1 {
			rt.Fatalf("ready returned true %d times, want 1", got)
		}
		if got := h.readiness.calls.Load(); got != 1 {
			rt.Fatalf("parent decremented %d times, want 1", got)
		}
		if got := h.c.RemainingRequired(); got != 0 {
			rt.Fatalf("RemainingRequired() = %d, want 0", got)
		}
		if !h.c.Exhausted() {
			rt.Fatalf("Exhausted() = false after every terminal batch")
		}

		total := 0
		for i, s := range h.c.Slots() {
			last := map[int]int64{}
			for _, b := range drain(rt, s) {
				pos := b.Header.SenderPosition
				if h.c.SlotFor(pos) != i {
					rt.Fatalf("sender %d batch found in slot %d", pos, i)
				}
				if prev, ok := last[pos]; ok && b.Header.Sequence <= prev {
					rt.Fatalf("sender %d out of order: %d after %d", pos, b.Header.Sequence, prev)
				}
				last[pos] = b.Header.Sequence
				total++
			}
		}
		if total != senders*perSender {
			rt.Fatalf("drained %d batches, want %d", total, senders*perSender)
		}
	})
}

// For any sender emitting an out-of-memory signal, every slot observes it.
func TestPropertyOutOfMemoryVisibleInEverySlot(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		senders := rapid.IntRange(1, 8).Draw(rt, "senders")
		slots := rapid.IntRange(1, senders).Draw(rt, "slots")
		origin := rapid.IntRange(0, senders-1).Draw(rt, "origin")

		h := newHarness(rt, zap.NewNop(), newReceiver(3, senders, false), slots, nil)

		for pos := 0; pos < senders; pos++ {
			mustArrive(rt, h, pos, h.batch(pos, 0, false))
		}
		mustArrive(rt, h, origin, h.oom(origin, 1))
		for pos := 0; pos < senders; pos++ {
			mustArrive(rt, h, pos, h.batch(pos, 2, true))
		}

		for i, s := range h.c.Slots() {
			signals := 0
			for _, b := range drain(rt, s) {
				if b.IsSignal() {
					signals++
				}
			}
			if signals != 1 {
				rt.Fatalf("slot %d saw %d signals, want 1", i, signals)
			}
		}
	})
}

// For any interleaving of arrivals and concurrent Close calls, each bound
// connection is closed exactly once.
func TestPropertyConcurrentCloseIsExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		senders := rapid.IntRange(1, 8).Draw(rt, "senders")
		closers := rapid.IntRange(1, 4).Draw(rt, "closers")
		perSender := rapid.IntRange(1, 4).Draw(rt, "perSender")

		h := newHarness(rt, zap.NewNop(), newReceiver(1, senders, true), 1, nil)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for pos := 0; pos < senders; pos++ {
			wg.Add(1)
			go func(pos int) {
				defer wg.Done()
				<-start
				for seq := 0; seq < perSender; seq++ {
					_, _ = h.c.BatchArrived(pos, h.batch(pos, int64(seq), false))
				}
			}(pos)
		}
		for i := 0; i < closers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_ = h.c.Close()
			}()
		}
		close(start)
		wg.Wait()

		for pos, conn := range h.conns {
			if got := conn.closes.Load(); got != 1 {
				rt.Fatalf("connection %d closed %d times, want 1", pos, got)
			}
		}
	})
}

func TestPropertyDecrementNeverBelowZero(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		senders := rapid.IntRange(1, 6).Draw(rt, "senders")
		order := rapid.SliceOfN(rapid.IntRange(0, senders-1), 1, 30).Draw(rt, "order")

		h := newHarness(rt, zap.NewNop(), newReceiver(1, senders, true), 1, nil)
		for i, pos := range order {
			mustArrive(rt, h, pos, h.batch(pos, int64(i), false))
			if h.c.RemainingRequired() < 0 {
				rt.Fatalf("RemainingRequired() = %d", h.c.RemainingRequired())
			}
		}
	})
}

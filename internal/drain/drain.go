// Package drain reads every slot of a ready fragment until end-of-data and
// archives the drained batches.
//
// One goroutine per slot dequeues batches and collects them in a segment
// buffer. When the rotation policy fires, the segment is handed to a bounded
// worker pool that writes it through the configured storage backend at the
// router's path for that slot. Out-of-memory signals are counted and logged
// but never archived.
package drain

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	internalbuffer "github.com/jittakal/kafexchange/internal/buffer"
	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/buffer"
	"github.com/jittakal/kafexchange/pkg/slot"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Exchange is the part of a collector the drainer reads.
type Exchange interface {
	OppositeMajorFragmentID() int
	Slots() []slot.Slot
}

// Readiness blocks until the fragment is runnable.
type Readiness interface {
	Wait(ctx context.Context) error
}

// MetricsCollector defines metrics operations for the drainer.
type MetricsCollector interface {
	IncBatchesDrained(id batch.SlotID)
	IncSignalsDrained(id batch.SlotID)
	IncSegmentsFlushed(status string)
}

// Config contains drainer settings.
type Config struct {
	// WorkerPoolSize bounds concurrent archive writes.
	WorkerPoolSize int
	// MaxSegmentBytes and MaxSegmentRecords bound one segment buffer.
	MaxSegmentBytes   int64
	MaxSegmentRecords int
	// AgeCheckInterval is how long an idle slot waits before the rotation
	// policy is re-evaluated for its open segment.
	AgeCheckInterval time.Duration
	WriteRetries     int
	RetryBackoff     time.Duration
}

// Stats is a snapshot of drainer counters.
type Stats struct {
	Batches  int64
	Signals  int64
	Segments int64
	Failed   int64
}

// Drainer drains the slots of a fragment into storage.
type Drainer struct {
	cfg       Config
	exchanges []Exchange
	readiness Readiness
	writer    storage.Writer
	router    storage.Router
	policy    storage.RotationPolicy
	buffers   *internalbuffer.Manager
	pool      *ants.Pool
	logger    *zap.Logger
	metrics   MetricsCollector

	pending sync.WaitGroup

	mu       sync.Mutex
	writeErr []error

	batches  atomic.Int64
	signals  atomic.Int64
	segments atomic.Int64
	failed   atomic.Int64
}

// New creates a drainer. The worker pool is released by Close.
func New(
	cfg Config,
	exchanges []Exchange,
	readiness Readiness,
	writer storage.Writer,
	router storage.Router,
	policy storage.RotationPolicy,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*Drainer, error) {
	switch {
	case readiness == nil:
		return nil, &errors.ConfigurationError{Field: "readiness", Reason: "required"}
	case writer == nil:
		return nil, &errors.ConfigurationError{Field: "writer", Reason: "required"}
	case router == nil:
		return nil, &errors.ConfigurationError{Field: "router", Reason: "required"}
	case policy == nil:
		return nil, &errors.ConfigurationError{Field: "policy", Reason: "required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.AgeCheckInterval <= 0 {
		cfg.AgeCheckInterval = time.Second
	}

	pool, err := ants.NewPool(cfg.WorkerPoolSize, ants.WithPanicHandler(func(v any) {
		logger.Error("archive write panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Drainer{
		cfg:       cfg,
		exchanges: exchanges,
		readiness: readiness,
		writer:    writer,
		router:    router,
		policy:    policy,
		buffers:   internalbuffer.NewManager(cfg.MaxSegmentBytes, cfg.MaxSegmentRecords),
		pool:      pool,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Run waits for readiness, then drains every slot until end-of-data or ctx
// ends. It returns after all submitted writes completed. Write failures are
// joined into the returned error.
func (d *Drainer) Run(ctx context.Context) error {
	if err := d.readiness.Wait(ctx); err != nil {
		return err
	}
	d.logger.Info("fragment ready, draining slots")

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range d.exchanges {
		exchangeID := ex.OppositeMajorFragmentID()
		for i, s := range ex.Slots() {
			id := batch.SlotID{Exchange: exchangeID, Slot: i}
			g.Go(func() error {
				return d.drainSlot(gctx, id, s)
			})
		}
	}

	err := g.Wait()
	d.pending.Wait()

	d.mu.Lock()
	werr := stderrors.Join(d.writeErr...)
	d.mu.Unlock()

	st := d.Stats()
	d.logger.Info("drain finished",
		zap.Int64("batches", st.Batches),
		zap.Int64("signals", st.Signals),
		zap.Int64("segments", st.Segments),
		zap.Int64("failed_segments", st.Failed),
	)

	return stderrors.Join(err, werr)
}

func (d *Drainer) drainSlot(ctx context.Context, id batch.SlotID, s slot.Slot) error {
	buf := d.buffers.GetOrCreate(id)
	defer d.buffers.Remove(id)

	for {
		b, err := d.next(ctx, s, buf)
		switch {
		case err == nil:
		case stderrors.Is(err, errors.ErrEndOfData):
			d.flush(ctx, id, buf)
			d.logger.Debug("slot drained", zap.Stringer("slot", id))
			return nil
		case stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if d.policy.ShouldRotate(buf.Stats()) {
				d.flush(ctx, id, buf)
			}
			continue
		default:
			if !buf.IsEmpty() {
				d.flush(context.WithoutCancel(ctx), id, buf)
			}
			return err
		}

		if b.Header.OutOfMemory {
			d.signals.Add(1)
			if d.metrics != nil {
				d.metrics.IncSignalsDrained(id)
			}
			d.logger.Warn("sender reported out of memory",
				zap.Stringer("slot", id),
				zap.Int("sender", b.Header.SenderPosition),
			)
			if b.IsSignal() {
				continue
			}
		}

		d.batches.Add(1)
		if d.metrics != nil {
			d.metrics.IncBatchesDrained(id)
		}

		record := batch.NewRecord(b, id.Slot, time.Now())
		if err := buf.Add(record); err != nil {
			if !stderrors.Is(err, errors.ErrBufferFull) {
				return err
			}
			d.flush(ctx, id, buf)
			if err := buf.Add(record); err != nil {
				return err
			}
		}

		if d.policy.ShouldRotate(buf.Stats()) {
			d.flush(ctx, id, buf)
		}
	}
}

// next dequeues with a deadline while the open segment is non-empty so that
// age based rotation still fires on an idle slot.
func (d *Drainer) next(ctx context.Context, s slot.Slot, buf buffer.Buffer) (*batch.RawBatch, error) {
	if buf.IsEmpty() {
		return s.Dequeue(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, d.cfg.AgeCheckInterval)
	defer cancel()
	return s.Dequeue(wctx)
}

// flush hands the buffered segment to the worker pool.
func (d *Drainer) flush(ctx context.Context, id batch.SlotID, buf buffer.Buffer) {
	records := buf.Drain()
	if len(records) == 0 {
		return
	}
	path := d.router.Route(id, records[0].EventTime())

	d.pending.Add(1)
	err := d.pool.Submit(func() {
		defer d.pending.Done()
		d.write(ctx, id, records, path)
	})
	if err != nil {
		d.pending.Done()
		d.recordFailure(id, path, len(records), fmt.Errorf("submit write: %w", err))
	}
}

func (d *Drainer) write(ctx context.Context, id batch.SlotID, records []batch.Record, path string) {
	var err error
	for attempt := 0; ; attempt++ {
		var n int64
		n, err = d.writer.Write(ctx, records, path)
		if err == nil {
			d.segments.Add(1)
			if d.metrics != nil {
				d.metrics.IncSegmentsFlushed("success")
			}
			d.logger.Info("wrote segment to storage",
				zap.Stringer("slot", id),
				zap.Int("records", len(records)),
				zap.Int64("bytes", n),
				zap.String("path", path),
			)
			return
		}
		if attempt >= d.cfg.WriteRetries || !errors.IsRetryable(err) {
			break
		}

		d.logger.Warn("retrying segment write",
			zap.Stringer("slot", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-time.After(d.cfg.RetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			err = stderrors.Join(err, ctx.Err())
			d.recordFailure(id, path, len(records), err)
			return
		}
	}
	d.recordFailure(id, path, len(records), err)
}

func (d *Drainer) recordFailure(id batch.SlotID, path string, records int, err error) {
	d.failed.Add(1)
	if d.metrics != nil {
		d.metrics.IncSegmentsFlushed("error")
	}
	d.logger.Error("failed to write segment",
		zap.Stringer("slot", id),
		zap.Int("records", records),
		zap.String("path", path),
		zap.Error(err),
	)

	d.mu.Lock()
	d.writeErr = append(d.writeErr, fmt.Errorf("slot %s: %w", id, err))
	d.mu.Unlock()
}

// Stats returns a snapshot of the drainer counters.
func (d *Drainer) Stats() Stats {
	return Stats{
		Batches:  d.batches.Load(),
		Signals:  d.signals.Load(),
		Segments: d.segments.Load(),
		Failed:   d.failed.Load(),
	}
}

// Close releases the worker pool, waiting up to timeout for running writes.
func (d *Drainer) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}

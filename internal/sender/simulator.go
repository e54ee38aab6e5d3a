// Package sender simulates the upstream fragments of one exchange.
//
// Each simulated sender publishes a stream of batches for its position,
// paced by its own rate limiter, optionally interleaving out-of-memory
// signals, and always ends its stream with a terminal batch.
package sender

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/internal/generator"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/consumer"
)

// Config describes the simulated exchange.
type Config struct {
	QueryID  string
	Exchange int
	Senders  int
	// BatchesPerSender counts data batches; the last one is terminal.
	BatchesPerSender int
	RatePerSecond    float64
	Burst            int
	OOMProbability   float64
	MinRows          int
	MaxRows          int
	Seed             int64
}

// Validate checks the simulator configuration.
func (c Config) Validate() error {
	switch {
	case c.Senders <= 0:
		return &errors.ConfigurationError{Field: "sender.senders", Reason: "must be positive"}
	case c.BatchesPerSender < 0:
		return &errors.ConfigurationError{Field: "sender.batches_per_sender", Reason: "cannot be negative"}
	case c.RatePerSecond < 0:
		return &errors.ConfigurationError{Field: "sender.rate_per_second", Reason: "cannot be negative"}
	case c.OOMProbability < 0 || c.OOMProbability > 1:
		return &errors.ConfigurationError{Field: "sender.oom_probability", Reason: "must be within [0, 1]"}
	case c.MinRows < 0 || c.MaxRows < c.MinRows:
		return &errors.ConfigurationError{Field: "sender.rows", Reason: "need 0 <= min_rows <= max_rows"}
	}
	return nil
}

// Stats counts what the simulator published.
type Stats struct {
	Batches int64
	Signals int64
	Rows    int64
}

// Simulator runs every sender of an exchange concurrently.
type Simulator struct {
	cfg       Config
	publisher consumer.Publisher
	logger    *zap.Logger

	batches atomic.Int64
	signals atomic.Int64
	rows    atomic.Int64
}

// New creates a simulator.
func New(cfg Config, publisher consumer.Publisher, logger *zap.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		return nil, &errors.ConfigurationError{Field: "publisher", Reason: "required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Simulator{cfg: cfg, publisher: publisher, logger: logger}, nil
}

// Run publishes every sender's stream. It returns the first publish error.
func (s *Simulator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for pos := 0; pos < s.cfg.Senders; pos++ {
		g.Go(func() error {
			return s.runSender(gctx, pos)
		})
	}
	err := g.Wait()

	st := s.Stats()
	s.logger.Info("simulation finished",
		zap.Int("exchange", s.cfg.Exchange),
		zap.Int("senders", s.cfg.Senders),
		zap.Int64("batches", st.Batches),
		zap.Int64("signals", st.Signals),
		zap.Int64("rows", st.Rows),
		zap.Error(err),
	)
	return err
}

func (s *Simulator) limiter() *rate.Limiter {
	if s.cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), burst)
}

func (s *Simulator) runSender(ctx context.Context, pos int) error {
	limiter := s.limiter()
	gen := generator.New(s.cfg.Seed+int64(pos), s.cfg.MinRows, s.cfg.MaxRows)
	logger := s.logger.With(zap.Int("sender", pos))

	total := s.cfg.BatchesPerSender
	if total == 0 {
		// an empty stream still ends with a terminal batch
		total = 1
	}

	for seq := 0; seq < total; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		if gen.Chance(s.cfg.OOMProbability) {
			if err := s.publish(ctx, s.signal(pos, int64(seq))); err != nil {
				return err
			}
			s.signals.Add(1)
			logger.Debug("published out-of-memory signal", zap.Int("sequence", seq))
		}

		var body []byte
		var count int
		if s.cfg.BatchesPerSender > 0 {
			var err error
			if body, count, err = gen.Body(); err != nil {
				return err
			}
		}

		b := s.dataBatch(pos, int64(seq), body, count, seq == total-1)
		if err := s.publish(ctx, b); err != nil {
			return err
		}
		s.batches.Add(1)
		s.rows.Add(int64(count))
	}

	logger.Info("sender finished", zap.Int("batches", total))
	return nil
}

func (s *Simulator) header(pos int, seq int64) batch.Header {
	return batch.Header{
		QueryID:                 s.cfg.QueryID,
		OppositeMajorFragmentID: s.cfg.Exchange,
		SenderPosition:          pos,
		Sequence:                seq,
		SentAt:                  time.Now().UTC(),
	}
}

func (s *Simulator) dataBatch(pos int, seq int64, body []byte, rows int, last bool) *batch.RawBatch {
	h := s.header(pos, seq)
	h.RecordCount = rows
	h.LastBatch = last
	return &batch.RawBatch{ID: uuid.NewString(), Header: h, Body: body}
}

func (s *Simulator) signal(pos int, seq int64) *batch.RawBatch {
	h := s.header(pos, seq)
	h.OutOfMemory = true
	return &batch.RawBatch{ID: uuid.NewString(), Header: h}
}

func (s *Simulator) publish(ctx context.Context, b *batch.RawBatch) error {
	if err := s.publisher.Publish(ctx, b); err != nil {
		return fmt.Errorf("sender %d: %w", b.Header.SenderPosition, err)
	}
	return nil
}

// Stats returns the published counts so far.
func (s *Simulator) Stats() Stats {
	return Stats{
		Batches: s.batches.Load(),
		Signals: s.signals.Load(),
		Rows:    s.rows.Load(),
	}
}

// Package collector implements the receive side of a data exchange.
//
// A Collector accepts batches from many concurrently writing sender
// connections, routes each one into a buffer slot, counts distinct senders
// until the exchange is ready, and pauses or resumes connections on behalf
// of its slots. All per-sender state lives in fixed arrays of atomics sized
// at construction, so BatchArrived never takes a lock shared across senders.
//
// Batches from one sender reach their slot in the order they arrived.
// Batches from different senders sharing a slot interleave in arrival order,
// which is not deterministic.
package collector

import (
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// Ensure implementation satisfies interface at compile time.
var _ slot.ReadController = (*Collector)(nil)

// Readiness is the counter shared with the owning fragment. The collector
// decrements it exactly once, when enough senders have reported.
type Readiness interface {
	Decrement() int64
}

// FailureReporter is the owning fragment's failure path.
type FailureReporter interface {
	Fail(err error)
}

// Observer receives collector measurements.
type Observer interface {
	IncBatchesArrived(exchange, sender int)
	IncOutOfMemory(exchange int)
	IncProtocolViolations(exchange int)
	IncReady(exchange int)
	SetSendersActive(exchange int, active float64)
	IncConnectionsClosed(exchange int, status string)
}

// Config holds the construction arguments of a Collector.
type Config struct {
	Receiver *batch.Receiver

	// MinInputs is the number of distinct senders an ordered exchange waits
	// for. It is also the number of slots.
	MinInputs int

	Readiness Readiness

	// Impl names the slot implementation Constructor was resolved from.
	Impl        string
	Constructor slot.Constructor
	Settings    slot.Settings

	// Policy defaults to Merging for a single slot and Partitioned otherwise.
	Policy Policy

	// OnStreamFinished runs when a sender's terminal batch is seen, before
	// that batch is enqueued.
	OnStreamFinished func(position int)

	Failures FailureReporter
	Logger   *zap.Logger
	Observer Observer
}

type binding struct {
	conn batch.Connection
}

// Collector is the receive side of one exchange.
type Collector struct {
	exchange  int
	senders   int
	slots     []slot.Slot
	routes    []int
	policy    Policy
	readiness Readiness

	// per sender position
	conns      []atomic.Pointer[binding]
	arrived    []atomic.Bool
	finished   []atomic.Bool
	connClosed []atomic.Bool

	// per slot: senders routed there that have not finished
	openSenders []atomic.Int32

	remainingRequired atomic.Int64
	finishedStreams   atomic.Int64
	activeSenders     atomic.Int64
	closing           atomic.Bool

	onStreamFinished func(position int)
	failures         FailureReporter
	logger           *zap.Logger
	observer         Observer
}

// New builds a Collector and instantiates its slots.
//
// Bad arguments fail with errors.ErrInvalidConfiguration. A slot that cannot
// be created fails with errors.ErrBufferInstantiation; that error is also
// reported to cfg.Failures.
func New(cfg Config) (*Collector, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	senders := cfg.Receiver.SenderCount()
	exchange := cfg.Receiver.OppositeMajorFragmentID

	policy := cfg.Policy
	if policy == nil {
		if cfg.MinInputs == 1 {
			policy = Merging{}
		} else {
			policy = Partitioned{Slots: cfg.MinInputs}
		}
	}

	c := &Collector{
		exchange:         exchange,
		senders:          senders,
		slots:            make([]slot.Slot, cfg.MinInputs),
		routes:           make([]int, senders),
		policy:           policy,
		readiness:        cfg.Readiness,
		conns:            make([]atomic.Pointer[binding], senders),
		arrived:          make([]atomic.Bool, senders),
		finished:         make([]atomic.Bool, senders),
		connClosed:       make([]atomic.Bool, senders),
		openSenders:      make([]atomic.Int32, cfg.MinInputs),
		onStreamFinished: cfg.OnStreamFinished,
		failures:         cfg.Failures,
		logger: logger.With(
			zap.Int("exchange", exchange),
			zap.String("policy", policy.Name()),
		),
		observer: cfg.Observer,
	}

	feeders := make([][]int, cfg.MinInputs)
	for pos := 0; pos < senders; pos++ {
		idx := policy.SlotFor(pos)
		if idx < 0 || idx >= cfg.MinInputs {
			return nil, &errors.ConfigurationError{
				Field:  "policy",
				Reason: fmt.Sprintf("%s maps sender %d to slot %d of %d", policy.Name(), pos, idx, cfg.MinInputs),
			}
		}
		c.routes[pos] = idx
		c.openSenders[idx].Add(1)
		feeders[idx] = append(feeders[idx], pos)
	}

	if cfg.Receiver.OutOfOrder {
		c.remainingRequired.Store(1)
	} else {
		c.remainingRequired.Store(int64(cfg.MinInputs))
	}

	for i := range c.slots {
		settings := cfg.Settings
		settings.ID = batch.SlotID{Exchange: exchange, Slot: i}
		settings.Senders = feeders[i]

		s, err := cfg.Constructor(settings, c, senders)
		if err == nil && s == nil {
			err = fmt.Errorf("constructor returned no slot")
		}
		if err != nil {
			for _, created := range c.slots[:i] {
				created.Close()
			}
			ierr := &errors.InstantiationError{Impl: cfg.Impl, Slot: settings.ID, Err: err}
			c.logger.Error("failed to instantiate slot", zap.Error(ierr))
			if c.failures != nil {
				c.failures.Fail(ierr)
			}
			return nil, ierr
		}
		c.slots[i] = s

		// a slot no sender routes to never receives data
		if c.openSenders[i].Load() == 0 {
			s.Close()
		}
	}

	c.logger.Info("collector created",
		zap.Int("senders", senders),
		zap.Int("slots", cfg.MinInputs),
		zap.Bool("out_of_order", cfg.Receiver.OutOfOrder),
		zap.Int64("remaining_required", c.remainingRequired.Load()),
		zap.String("impl", cfg.Impl),
	)

	return c, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.Receiver == nil:
		return &errors.ConfigurationError{Field: "receiver", Reason: "required"}
	case cfg.Readiness == nil:
		return &errors.ConfigurationError{Field: "readiness", Reason: "required"}
	case cfg.MinInputs <= 0:
		return &errors.ConfigurationError{Field: "min_inputs", Reason: fmt.Sprintf("must be positive, got %d", cfg.MinInputs)}
	case cfg.Receiver.SenderCount() == 0:
		return &errors.ConfigurationError{Field: "receiver", Reason: "no providing endpoints"}
	case cfg.MinInputs > cfg.Receiver.SenderCount():
		return &errors.ConfigurationError{
			Field:  "min_inputs",
			Reason: fmt.Sprintf("%d exceeds sender count %d", cfg.MinInputs, cfg.Receiver.SenderCount()),
		}
	case cfg.Constructor == nil:
		err := &errors.InstantiationError{
			Impl: cfg.Impl,
			Slot: batch.SlotID{Exchange: cfg.Receiver.OppositeMajorFragmentID},
			Err:  fmt.Errorf("no constructor resolved"),
		}
		if cfg.Failures != nil {
			cfg.Failures.Fail(err)
		}
		return err
	}
	return nil
}

// BatchArrived accepts one batch from the sender at position. It is safe for
// concurrent use. The result is true only for the call that made this
// collector ready; it stays meaningful when an error is also returned.
//
// An out-of-memory signal without payload is broadcast to every open slot.
// An out-of-memory batch with payload goes to the sender's own slot once and
// every other open slot receives a payload-less copy of the signal.
func (c *Collector) BatchArrived(position int, b *batch.RawBatch) (bool, error) {
	if err := c.checkHeader(position, b); err != nil {
		return false, err
	}
	if c.finished[position].Load() {
		return false, c.violation(position, b, "batch after terminal batch")
	}

	if c.observer != nil {
		c.observer.IncBatchesArrived(c.exchange, position)
	}

	idx := c.routes[position]
	if b.Header.OutOfMemory {
		if err := c.broadcast(b, idx); err != nil {
			return false, err
		}
	}

	if b.Connection != nil && c.conns[position].CompareAndSwap(nil, &binding{conn: b.Connection}) {
		c.logger.Debug("connection bound",
			zap.Int("sender", position),
			zap.String("connection", b.Connection.ID()),
		)
		if c.closing.Load() {
			_ = c.closeConnection(position)
		}
	}

	ready := false
	if c.arrived[position].CompareAndSwap(false, true) {
		active := c.activeSenders.Add(1)
		if c.observer != nil {
			c.observer.SetSendersActive(c.exchange, float64(active))
		}
		if c.decrementRemaining() {
			c.readiness.Decrement()
			ready = true
			c.logger.Info("exchange ready", zap.Int("sender", position))
			if c.observer != nil {
				c.observer.IncReady(c.exchange)
			}
		}
	}

	if b.Header.LastBatch {
		if !c.finished[position].CompareAndSwap(false, true) {
			return ready, c.violation(position, b, "duplicate terminal batch")
		}
		finished := c.finishedStreams.Add(1)
		c.logger.Debug("stream finished",
			zap.Int("sender", position),
			zap.Int64("finished_streams", finished),
		)
		if c.onStreamFinished != nil {
			c.onStreamFinished(position)
		}
	}

	if !b.IsSignal() {
		if err := c.slots[idx].Enqueue(b); err != nil {
			return ready, fmt.Errorf("enqueue batch from sender %d into slot %d: %w", position, idx, err)
		}
	}

	if b.Header.LastBatch && c.openSenders[idx].Add(-1) == 0 {
		c.slots[idx].Close()
		c.logger.Debug("slot exhausted", zap.Int("slot", idx))
	}

	return ready, nil
}

func (c *Collector) checkHeader(position int, b *batch.RawBatch) error {
	switch {
	case b == nil:
		return c.violation(position, nil, "nil batch")
	case position < 0 || position >= c.senders:
		return c.violation(position, b, fmt.Sprintf("sender position out of range [0, %d)", c.senders))
	case b.Header.SenderPosition != position:
		return c.violation(position, b, fmt.Sprintf("header names sender %d", b.Header.SenderPosition))
	case b.Header.OppositeMajorFragmentID != c.exchange:
		return c.violation(position, b, fmt.Sprintf("header names exchange %d", b.Header.OppositeMajorFragmentID))
	}
	return nil
}

func (c *Collector) violation(position int, b *batch.RawBatch, reason string) error {
	err := &errors.ProtocolViolationError{Exchange: c.exchange, Sender: position, Reason: reason}
	if b != nil {
		err.BatchID = b.ID
	}

	c.logger.Warn("protocol violation", zap.Error(err))
	if c.observer != nil {
		c.observer.IncProtocolViolations(c.exchange)
	}
	if c.failures != nil {
		c.failures.Fail(err)
	}
	return err
}

// broadcast delivers the out-of-memory signal of b to every open slot. When b
// carries a payload, origin is skipped; the payload itself is enqueued there.
func (c *Collector) broadcast(b *batch.RawBatch, origin int) error {
	if c.observer != nil {
		c.observer.IncOutOfMemory(c.exchange)
	}
	c.logger.Debug("broadcasting out-of-memory signal",
		zap.Int("sender", b.Header.SenderPosition),
		zap.Bool("payload", !b.IsSignal()),
	)

	signal := b
	if !b.IsSignal() {
		signal = b.Signal()
	}
	for i, s := range c.slots {
		if i == origin && signal != b {
			continue
		}
		if err := s.Enqueue(signal); err != nil && !stderrors.Is(err, errors.ErrSlotClosed) {
			return fmt.Errorf("broadcast out-of-memory batch to slot %d: %w", i, err)
		}
	}
	return nil
}

// decrementRemaining lowers Remaining-Required without going below zero and
// reports whether this call brought it to zero.
func (c *Collector) decrementRemaining() bool {
	for {
		cur := c.remainingRequired.Load()
		if cur <= 0 {
			return false
		}
		if c.remainingRequired.CompareAndSwap(cur, cur-1) {
			return cur == 1
		}
	}
}

// SetAutoRead pauses or resumes every bound connection.
func (c *Collector) SetAutoRead(enabled bool) {
	for pos := range c.conns {
		c.SetSenderAutoRead(pos, enabled)
	}
}

// SetSenderAutoRead pauses or resumes one sender's connection. It is a no-op
// when the position is unknown, unbound or already closed.
func (c *Collector) SetSenderAutoRead(position int, enabled bool) {
	if position < 0 || position >= c.senders {
		return
	}
	bnd := c.conns[position].Load()
	if bnd == nil || c.connClosed[position].Load() {
		return
	}
	bnd.conn.SetAutoRead(enabled)
}

// Close closes every bound connection exactly once. Each close is attempted
// even if another fails; the failures are joined. Slots are left open so
// consumers can finish draining. Connections bound after Close are closed as
// they bind.
func (c *Collector) Close() error {
	c.closing.Store(true)

	var errs []error
	for pos := range c.conns {
		if err := c.closeConnection(pos); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (c *Collector) closeConnection(position int) error {
	bnd := c.conns[position].Load()
	if bnd == nil {
		return nil
	}
	if !c.connClosed[position].CompareAndSwap(false, true) {
		return nil
	}

	if err := bnd.conn.Close(); err != nil {
		c.logger.Warn("failed to close connection",
			zap.Int("sender", position),
			zap.String("connection", bnd.conn.ID()),
			zap.Error(err),
		)
		if c.observer != nil {
			c.observer.IncConnectionsClosed(c.exchange, "failure")
		}
		return fmt.Errorf("close connection %s of sender %d: %w", bnd.conn.ID(), position, err)
	}

	if c.observer != nil {
		c.observer.IncConnectionsClosed(c.exchange, "success")
	}
	return nil
}

// Cancel closes every slot, releasing blocked consumers, then closes every
// connection.
func (c *Collector) Cancel() error {
	for _, s := range c.slots {
		s.Close()
	}
	return c.Close()
}

// OppositeMajorFragmentID returns the id of the sending major fragment.
func (c *Collector) OppositeMajorFragmentID() int {
	return c.exchange
}

// TotalIncomingFragments returns the number of senders.
func (c *Collector) TotalIncomingFragments() int {
	return c.senders
}

// Slots returns the slot array. The slice must not be modified.
func (c *Collector) Slots() []slot.Slot {
	return c.slots
}

// Slot returns slot i, or nil when i is out of range.
func (c *Collector) Slot(i int) slot.Slot {
	if i < 0 || i >= len(c.slots) {
		return nil
	}
	return c.slots[i]
}

// SlotFor returns the slot index the sender at position routes to, or -1
// for an unknown position.
func (c *Collector) SlotFor(position int) int {
	if position < 0 || position >= c.senders {
		return -1
	}
	return c.routes[position]
}

// RemainingRequired returns how many more distinct senders must report
// before the exchange is ready.
func (c *Collector) RemainingRequired() int64 {
	return c.remainingRequired.Load()
}

// FinishedStreams returns the number of senders that sent a terminal batch.
func (c *Collector) FinishedStreams() int64 {
	return c.finishedStreams.Load()
}

// Exhausted reports whether every sender has finished.
func (c *Collector) Exhausted() bool {
	return c.finishedStreams.Load() == int64(c.senders)
}

// State returns the lifecycle state of the sender at position. An unknown
// position reports NotStarted.
func (c *Collector) State(position int) SenderState {
	if position < 0 || position >= c.senders {
		return NotStarted
	}
	switch {
	case c.finished[position].Load():
		return Finished
	case c.arrived[position].Load():
		return Active
	default:
		return NotStarted
	}
}

// Connection returns the connection bound for position, if any.
func (c *Collector) Connection(position int) (batch.Connection, bool) {
	if position < 0 || position >= c.senders {
		return nil, false
	}
	bnd := c.conns[position].Load()
	if bnd == nil {
		return nil, false
	}
	return bnd.conn, true
}

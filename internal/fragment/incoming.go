package fragment

import (
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/collector"
	"github.com/jittakal/kafexchange/internal/errors"
	slotimpl "github.com/jittakal/kafexchange/internal/slot"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/consumer"
	"github.com/jittakal/kafexchange/pkg/slot"
)

var _ consumer.Sink = (*IncomingBuffers)(nil)

// ExchangeConfig describes one incoming exchange.
type ExchangeConfig struct {
	Receiver batch.Receiver

	// Policy is collector.PolicyMerging or collector.PolicyPartitioned.
	// Empty selects merging for out-of-order receivers and partitioned
	// otherwise.
	Policy string

	// MinInputs defaults to 1 for merging and to the sender count for
	// partitioned.
	MinInputs int

	// Impl overrides Config.DefaultImpl for this exchange.
	Impl string
}

// Config holds the construction arguments of IncomingBuffers.
type Config struct {
	Exchanges   []ExchangeConfig
	Registry    *slotimpl.Registry
	DefaultImpl string
	Settings    slot.Settings

	// OnStreamFinished runs when any sender of any exchange finishes.
	OnStreamFinished func(exchange, position int)

	Logger   *zap.Logger
	Observer collector.Observer
}

// exchangeReadiness forwards to the fragment counter and remembers whether
// this exchange's decrement was the one that reached zero.
type exchangeReadiness struct {
	parent    *Readiness
	completed atomic.Bool
}

func (e *exchangeReadiness) Decrement() int64 {
	v := e.parent.Decrement()
	if v == 0 {
		e.completed.Store(true)
	}
	return v
}

type exchange struct {
	collector *collector.Collector
	readiness *exchangeReadiness
}

// IncomingBuffers routes arriving batches to the collector of their exchange.
type IncomingBuffers struct {
	fctx      *Context
	readiness *Readiness
	exchanges map[int]*exchange
	order     []int
	logger    *zap.Logger
}

// NewIncomingBuffers builds one collector per configured exchange. On error
// the collectors already built are cancelled.
func NewIncomingBuffers(fctx *Context, cfg Config) (*IncomingBuffers, error) {
	if fctx == nil {
		return nil, &errors.ConfigurationError{Field: "fragment_context", Reason: "required"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = slotimpl.DefaultRegistry()
	}

	ib := &IncomingBuffers{
		fctx:      fctx,
		readiness: NewReadiness(len(cfg.Exchanges)),
		exchanges: make(map[int]*exchange, len(cfg.Exchanges)),
		order:     make([]int, 0, len(cfg.Exchanges)),
		logger:    logger,
	}

	for i := range cfg.Exchanges {
		ex := cfg.Exchanges[i]
		if err := ib.add(ex, cfg, registry); err != nil {
			_ = ib.Cancel(nil)
			return nil, err
		}
	}

	logger.Info("incoming buffers created",
		zap.Int("exchanges", len(ib.order)),
		zap.Int64("remaining", ib.readiness.Remaining()),
	)

	return ib, nil
}

func (ib *IncomingBuffers) add(ex ExchangeConfig, cfg Config, registry *slotimpl.Registry) error {
	id := ex.Receiver.OppositeMajorFragmentID
	if _, dup := ib.exchanges[id]; dup {
		return &errors.ConfigurationError{
			Field:  "exchanges",
			Reason: fmt.Sprintf("exchange %d configured twice", id),
		}
	}

	policyName := ex.Policy
	if policyName == "" {
		if ex.Receiver.OutOfOrder {
			policyName = collector.PolicyMerging
		} else {
			policyName = collector.PolicyPartitioned
		}
	}

	minInputs := ex.MinInputs
	if minInputs == 0 {
		if policyName == collector.PolicyMerging {
			minInputs = 1
		} else {
			minInputs = ex.Receiver.SenderCount()
		}
	}

	policy, err := collector.NewPolicy(policyName, minInputs)
	if err != nil {
		return &errors.ConfigurationError{Field: "policy", Reason: err.Error()}
	}

	impl := ex.Impl
	if impl == "" {
		impl = cfg.DefaultImpl
	}
	constructor, err := registry.Resolve(impl)
	if err != nil {
		var ierr *errors.InstantiationError
		if stderrors.As(err, &ierr) {
			ierr.Slot = batch.SlotID{Exchange: id}
		}
		ib.fctx.Fail(err)
		return err
	}

	var onFinished func(int)
	if cfg.OnStreamFinished != nil {
		onFinished = func(position int) { cfg.OnStreamFinished(id, position) }
	}

	receiver := ex.Receiver
	readiness := &exchangeReadiness{parent: ib.readiness}
	c, err := collector.New(collector.Config{
		Receiver:         &receiver,
		MinInputs:        minInputs,
		Readiness:        readiness,
		Impl:             impl,
		Constructor:      constructor,
		Settings:         cfg.Settings,
		Policy:           policy,
		OnStreamFinished: onFinished,
		Failures:         ib.fctx,
		Logger:           ib.logger,
		Observer:         cfg.Observer,
	})
	if err != nil {
		return fmt.Errorf("exchange %d: %w", id, err)
	}

	ib.exchanges[id] = &exchange{collector: c, readiness: readiness}
	ib.order = append(ib.order, id)
	return nil
}

// BatchArrived hands b to the collector of its exchange. It returns true
// exactly once, on the call that made the whole fragment runnable.
func (ib *IncomingBuffers) BatchArrived(b *batch.RawBatch) (bool, error) {
	if b == nil {
		return false, &errors.ProtocolViolationError{Exchange: -1, Sender: -1, Reason: "nil batch"}
	}
	if err := ib.fctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", errors.ErrFragmentFailed, err)
	}

	ex, ok := ib.exchanges[b.Header.OppositeMajorFragmentID]
	if !ok {
		return false, fmt.Errorf("%w: batch %s names exchange %d", errors.ErrUnknownExchange, b.ID, b.Header.OppositeMajorFragmentID)
	}

	ready, err := ex.collector.BatchArrived(b.Header.SenderPosition, b)
	fragmentReady := ready && ex.readiness.completed.Load()
	if fragmentReady {
		ib.logger.Info("fragment runnable", zap.Int("last_exchange", b.Header.OppositeMajorFragmentID))
	}
	return fragmentReady, err
}

// Collector returns the collector of an exchange.
func (ib *IncomingBuffers) Collector(exchangeID int) (*collector.Collector, bool) {
	ex, ok := ib.exchanges[exchangeID]
	if !ok {
		return nil, false
	}
	return ex.collector, true
}

// Collectors returns every collector in configuration order.
func (ib *IncomingBuffers) Collectors() []*collector.Collector {
	out := make([]*collector.Collector, 0, len(ib.order))
	for _, id := range ib.order {
		out = append(out, ib.exchanges[id].collector)
	}
	return out
}

// Readiness returns the fragment readiness counter.
func (ib *IncomingBuffers) Readiness() *Readiness {
	return ib.readiness
}

// Context returns the fragment failure context.
func (ib *IncomingBuffers) Context() *Context {
	return ib.fctx
}

// Exhausted reports whether every sender of every exchange has finished.
func (ib *IncomingBuffers) Exhausted() bool {
	for _, ex := range ib.exchanges {
		if !ex.collector.Exhausted() {
			return false
		}
	}
	return true
}

// SetAutoRead pauses or resumes every bound connection of every exchange.
func (ib *IncomingBuffers) SetAutoRead(enabled bool) {
	for _, id := range ib.order {
		ib.exchanges[id].collector.SetAutoRead(enabled)
	}
}

// Close closes every connection. Slots stay open for draining.
func (ib *IncomingBuffers) Close() error {
	var errs []error
	for _, id := range ib.order {
		if err := ib.exchanges[id].collector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("exchange %d: %w", id, err))
		}
	}
	return stderrors.Join(errs...)
}

// Cancel fails the fragment with cause, when non-nil, then closes every slot
// and connection.
func (ib *IncomingBuffers) Cancel(cause error) error {
	if cause != nil {
		ib.fctx.Fail(cause)
	}

	var errs []error
	for _, id := range ib.order {
		if err := ib.exchanges[id].collector.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("exchange %d: %w", id, err))
		}
	}
	return stderrors.Join(errs...)
}

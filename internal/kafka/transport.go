// Package kafka implements the Kafka transport for batch exchange.
//
// On the receive side every claimed partition is one sender's stream: the
// partition number is the sender position and the topic names the exchange.
// Each partition is exposed to the collector as a batch.Connection whose
// auto-read switch pauses and resumes the partition in the consumer group.
package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/consumer"
)

// Dead letter reasons.
const (
	ReasonUndecodable       = "undecodable"
	ReasonProtocolViolation = "protocol_violation"
	ReasonUnknownExchange   = "unknown_exchange"
)

// TransportConfig contains Kafka consumer group configuration.
type TransportConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
	// TopicPrefix plus the exchange id names each exchange's topic.
	TopicPrefix string
	Exchanges   []int
	Security    SecurityConfig

	AutoOffsetReset     string
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	MaxPollIntervalMS   int
}

// Validate checks the transport configuration.
func (c TransportConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return &errors.ConfigurationError{Field: "kafka.brokers", Reason: "at least one broker is required"}
	}
	if c.GroupID == "" {
		return &errors.ConfigurationError{Field: "kafka.consumer.group_id", Reason: "required"}
	}
	if len(c.Exchanges) == 0 {
		return &errors.ConfigurationError{Field: "fragment.exchanges", Reason: "at least one exchange is required"}
	}
	if err := c.Security.Validate(); err != nil {
		return &errors.ConfigurationError{Field: "kafka.security", Reason: err.Error()}
	}
	return nil
}

// TopicName returns the topic carrying an exchange.
func TopicName(prefix string, exchange int) string {
	return prefix + strconv.Itoa(exchange)
}

// MetricsCollector defines metrics operations for the Kafka transport.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncDecodeErrors(topic string)
	IncDeadLetters(topic, reason string)
	IncRebalances(groupID string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)
	IncPartitionPauses(topic string, paused bool)
	IncBatchesPublished(topic, status string)
}

// Transport consumes batches from Kafka and delivers them to a Sink.
type Transport struct {
	group    sarama.ConsumerGroup
	config   TransportConfig
	topics   map[string]int
	codec    *Codec
	sink     consumer.Sink
	failures consumer.FailureReporter
	dlq      consumer.DLQPublisher
	logger   *zap.Logger
	metrics  MetricsCollector

	mu     sync.Mutex
	conns  map[string]*partitionConn
	closed atomic.Bool
}

// NewTransport creates a consumer group backed transport.
func NewTransport(
	cfg TransportConfig,
	sink consumer.Sink,
	failures consumer.FailureReporter,
	dlq consumer.DLQPublisher,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategySticky(),
	}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(cfg.AutoOffsetReset)
	saramaConfig.Consumer.Return.Errors = true

	if cfg.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(cfg.SessionTimeoutMS) * time.Millisecond
	}
	if cfg.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond
	}
	if cfg.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(cfg.MaxPollIntervalMS) * time.Millisecond
	}

	if err := configureSecurity(saramaConfig, cfg.Security, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka transport created",
		zap.String("group_id", cfg.GroupID),
		zap.Strings("brokers", cfg.Brokers),
		zap.Ints("exchanges", cfg.Exchanges),
	)

	return newTransport(group, cfg, NewCodec(""), sink, failures, dlq, logger, metrics), nil
}

func newTransport(
	group sarama.ConsumerGroup,
	cfg TransportConfig,
	codec *Codec,
	sink consumer.Sink,
	failures consumer.FailureReporter,
	dlq consumer.DLQPublisher,
	logger *zap.Logger,
	metrics MetricsCollector,
) *Transport {
	topics := make(map[string]int, len(cfg.Exchanges))
	for _, id := range cfg.Exchanges {
		topics[TopicName(cfg.TopicPrefix, id)] = id
	}
	return &Transport{
		group:    group,
		config:   cfg,
		topics:   topics,
		codec:    codec,
		sink:     sink,
		failures: failures,
		dlq:      dlq,
		logger:   logger,
		metrics:  metrics,
		conns:    make(map[string]*partitionConn),
	}
}

// Topics returns the subscribed topics.
func (t *Transport) Topics() []string {
	out := make([]string, 0, len(t.config.Exchanges))
	for _, id := range t.config.Exchanges {
		out = append(out, TopicName(t.config.TopicPrefix, id))
	}
	return out
}

// Run consumes until ctx is done or the transport is closed. It rejoins the
// group after every rebalance.
func (t *Transport) Run(ctx context.Context) error {
	if t.closed.Load() {
		return errors.ErrTransportClosed
	}

	go t.logErrors(ctx)

	handler := &groupHandler{transport: t}
	topics := t.Topics()

	for {
		if err := t.group.Consume(ctx, topics, handler); err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (t *Transport) logErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-t.group.Errors():
			if !ok {
				return
			}
			t.logger.Error("consumer group error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// Close leaves the consumer group.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Info("closing kafka transport")
	if err := t.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	return nil
}

// connection returns the connection for a partition, creating it on the
// first claim. Connections outlive rebalances.
func (t *Transport) connection(topic string, partition int32) *partitionConn {
	key := topic + "/" + strconv.Itoa(int(partition))

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.conns[key]; ok {
		return c
	}
	c := &partitionConn{id: key, topic: topic, partition: partition, transport: t}
	t.conns[key] = c
	return c
}

func (t *Transport) setPaused(topic string, partition int32, paused bool) {
	partitions := map[string][]int32{topic: {partition}}
	if paused {
		t.group.Pause(partitions)
	} else {
		t.group.Resume(partitions)
	}
	if t.metrics != nil {
		t.metrics.IncPartitionPauses(topic, paused)
	}
}

func (t *Transport) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, reason string, cause error) {
	if t.metrics != nil {
		t.metrics.IncDeadLetters(msg.Topic, reason)
	}
	if t.dlq == nil {
		t.logger.Warn("dropping undeliverable message, no DLQ configured",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("reason", reason),
			zap.Error(cause),
		)
		return
	}

	letter := consumer.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Reason:    fmt.Sprintf("%s: %v", reason, cause),
		FailedAt:  time.Now().UTC(),
	}
	if err := t.dlq.Publish(ctx, letter); err != nil {
		t.logger.Error("failed to publish dead letter",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

// deliver decodes one message and hands it to the sink. A message whose
// header cannot be decoded, or names another exchange or sender than its
// topic and partition, is a protocol violation: it goes to the DLQ and fails
// the fragment.
func (t *Transport) deliver(ctx context.Context, conn *partitionConn, msg *sarama.ConsumerMessage) {
	exchange, ok := t.topics[msg.Topic]
	if !ok {
		t.deadLetter(ctx, msg, ReasonUnknownExchange, fmt.Errorf("%w: topic %s", errors.ErrUnknownExchange, msg.Topic))
		return
	}

	b, err := t.codec.Decode(msg.Value)
	if err != nil {
		derr := &errors.DecodeError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Err: err}
		t.logger.Error("failed to decode batch", zap.Error(derr))
		if t.metrics != nil {
			t.metrics.IncDecodeErrors(msg.Topic)
		}
		t.deadLetter(ctx, msg, ReasonUndecodable, derr)
		t.fail(&errors.ProtocolViolationError{
			Exchange: exchange,
			Sender:   int(msg.Partition),
			Reason:   fmt.Sprintf("undecodable batch at offset %d: %v", msg.Offset, err),
		})
		return
	}

	if b.Header.OppositeMajorFragmentID != exchange || b.Header.SenderPosition != int(msg.Partition) {
		verr := &errors.ProtocolViolationError{
			Exchange: exchange,
			Sender:   int(msg.Partition),
			BatchID:  b.ID,
			Reason: fmt.Sprintf("header names exchange %d sender %d",
				b.Header.OppositeMajorFragmentID, b.Header.SenderPosition),
		}
		t.logger.Error("batch arrived on another sender's partition", zap.Error(verr))
		t.deadLetter(ctx, msg, ReasonProtocolViolation, verr)
		t.fail(verr)
		return
	}

	b.Connection = conn
	b.ArrivedAt = time.Now()

	ready, err := t.sink.BatchArrived(b)
	switch {
	case err == nil:
		if ready {
			t.logger.Info("fragment ready",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
			)
		}
	case stderrors.Is(err, errors.ErrProtocolViolation):
		t.deadLetter(ctx, msg, ReasonProtocolViolation, err)
	case stderrors.Is(err, errors.ErrUnknownExchange):
		t.deadLetter(ctx, msg, ReasonUnknownExchange, err)
	default:
		t.logger.Warn("batch not accepted",
			zap.String("batch_id", b.ID),
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Error(err),
		)
	}
}

func (t *Transport) fail(err error) {
	if t.failures != nil {
		t.failures.Fail(err)
	}
}

// partitionConn is the Connection for one topic partition.
type partitionConn struct {
	id        string
	topic     string
	partition int32
	transport *Transport
	closed    atomic.Bool
}

func (c *partitionConn) ID() string {
	return c.id
}

// SetAutoRead pauses or resumes the partition. A closed connection stays
// paused.
func (c *partitionConn) SetAutoRead(enabled bool) {
	if enabled && c.closed.Load() {
		return
	}
	c.transport.setPaused(c.topic, c.partition, !enabled)
}

// Close pauses the partition for good.
func (c *partitionConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.setPaused(c.topic, c.partition, true)
	c.transport.logger.Debug("connection closed", zap.String("connection", c.id))
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	transport      *Transport
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	t := h.transport
	h.rebalanceStart = time.Now()

	t.logger.Info("consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
	)

	if t.metrics != nil {
		t.metrics.IncRebalances(t.config.GroupID)
		for topic, partitions := range session.Claims() {
			t.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	t := h.transport
	if t.metrics != nil && !h.rebalanceStart.IsZero() {
		t.metrics.ObserveRebalanceDuration(t.config.GroupID, time.Since(h.rebalanceStart).Seconds())
	}
	t.logger.Info("consumer group session cleanup", zap.String("member_id", session.MemberID()))
	return nil
}

// ConsumeClaim delivers the messages of one partition in offset order.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	t := h.transport
	topic := claim.Topic()
	partition := claim.Partition()

	conn := t.connection(topic, partition)
	if conn.closed.Load() {
		t.setPaused(topic, partition, true)
	}

	t.logger.Info("started consuming partition",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("initial_offset", claim.InitialOffset()),
	)

	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			t.deliver(ctx, conn, msg)
			session.MarkMessage(msg, "")
			if t.metrics != nil {
				t.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
			}

		case <-ctx.Done():
			t.logger.Info("session context done, stopping partition consumption",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
			)
			return nil
		}
	}
}

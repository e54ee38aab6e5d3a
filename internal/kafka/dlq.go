package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/consumer"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQEvent is the JSON document published to the dead letter queue.
type DLQEvent struct {
	OriginalValue     []byte    `json:"original_value"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	FailureReason     string    `json:"failure_reason"`
	FailureTimestamp  time.Time `json:"failure_timestamp"`
	ProcessorID       string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// Validate checks the DLQ configuration.
func (c DLQConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TopicSuffix == "" {
		return &errors.ConfigurationError{Field: "kafka.dlq.topic_suffix", Reason: "required when the DLQ is enabled"}
	}
	if c.MaxRetries < 0 {
		return &errors.ConfigurationError{Field: "kafka.dlq.max_retries", Reason: "cannot be negative"}
	}
	return nil
}

// DLQPublisher publishes undeliverable batches to a dead letter queue.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *zap.Logger
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewDLQPublisher creates a new DLQ publisher. A disabled DLQ accepts and
// discards every letter.
func NewDLQPublisher(
	brokers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *zap.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if err := dlqConfig.Validate(); err != nil {
		return nil, err
	}

	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, processorID), nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, security, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("brokers", brokers),
		zap.String("topic_suffix", dlqConfig.TopicSuffix),
	)

	return newDLQPublisher(producer, dlqConfig, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, cfg DLQConfig, logger *zap.Logger, processorID string) *DLQPublisher {
	return &DLQPublisher{
		producer:    producer,
		config:      cfg,
		logger:      logger,
		processorID: processorID,
	}
}

// Publish publishes a dead letter to <original topic><suffix>.
func (p *DLQPublisher) Publish(ctx context.Context, letter consumer.DeadLetter) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPublisherClosed
	}

	if !p.config.Enabled || p.producer == nil {
		p.logger.Debug("DLQ disabled, skipping publish", zap.String("topic", letter.Topic))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	failedAt := letter.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	dlqTopic := letter.Topic + p.config.TopicSuffix
	dlqData, err := json.Marshal(DLQEvent{
		OriginalValue:     letter.Value,
		OriginalTopic:     letter.Topic,
		OriginalPartition: letter.Partition,
		OriginalOffset:    letter.Offset,
		FailureReason:     letter.Reason,
		FailureTimestamp:  failedAt,
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(letter.Reason)},
			{Key: []byte("original_topic"), Value: []byte(letter.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(letter.Partition)))},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: failedAt,
	}
	if len(letter.Key) > 0 {
		msg.Key = sarama.ByteEncoder(letter.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			zap.String("dlq_topic", dlqTopic),
			zap.Int64("original_offset", letter.Offset),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published message to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("reason", letter.Reason),
	)
	return nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing DLQ producer", zap.Error(err))
			return err
		}
	}
	p.logger.Info("DLQ publisher closed")
	return nil
}

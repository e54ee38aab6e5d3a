package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/consumer"
)

var _ consumer.Publisher = (*Publisher)(nil)

// PublisherConfig contains Kafka producer configuration.
type PublisherConfig struct {
	Brokers     []string
	TopicPrefix string
	Security    SecurityConfig

	RequiredAcks    int
	Compression     string
	MaxMessageBytes int
	Idempotent      bool
	RetryMax        int
	RetryBackoffMS  int
}

// Publisher sends batches to the topic of their exchange, on the partition
// matching the sender position.
type Publisher struct {
	producer    sarama.SyncProducer
	topicPrefix string
	codec       *Codec
	logger      *zap.Logger
	metrics     MetricsCollector

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher with a manual partitioner.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger, metrics MetricsCollector) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, &errors.ConfigurationError{Field: "kafka.brokers", Reason: "at least one broker is required"}
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.Partitioner = sarama.NewManualPartitioner
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaConfig.Producer.Compression = compressionCodec(cfg.Compression)
	saramaConfig.Producer.Idempotent = cfg.Idempotent
	if cfg.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.RetryMax > 0 {
		saramaConfig.Producer.Retry.Max = cfg.RetryMax
	}
	if cfg.RetryBackoffMS > 0 {
		saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	}

	// Idempotent producer requires Net.MaxOpenRequests to be 1
	if cfg.Idempotent {
		saramaConfig.Net.MaxOpenRequests = 1
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	}

	if err := configureSecurity(saramaConfig, cfg.Security, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("kafka publisher created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)

	return newPublisher(producer, cfg.TopicPrefix, NewCodec(""), logger, metrics), nil
}

func newPublisher(producer sarama.SyncProducer, topicPrefix string, codec *Codec, logger *zap.Logger, metrics MetricsCollector) *Publisher {
	return &Publisher{
		producer:    producer,
		topicPrefix: topicPrefix,
		codec:       codec,
		logger:      logger,
		metrics:     metrics,
	}
}

// Publish sends one batch.
func (p *Publisher) Publish(ctx context.Context, b *batch.RawBatch) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := p.codec.Encode(b)
	if err != nil {
		return err
	}

	topic := TopicName(p.topicPrefix, b.Header.OppositeMajorFragmentID)
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Partition: int32(b.Header.SenderPosition),
		Key:       sarama.StringEncoder(strconv.Itoa(b.Header.SenderPosition)),
		Value:     sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte("1.0")},
			{Key: []byte("ce_type"), Value: []byte(BatchEventType)},
			{Key: []byte("ce_id"), Value: []byte(b.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.observe(topic, "error")
		return fmt.Errorf("failed to send batch %s: %w", b.ID, err)
	}
	p.observe(topic, "success")

	p.logger.Debug("batch published",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("batch_id", b.ID),
		zap.Int64("sequence", b.Header.Sequence),
		zap.Bool("last", b.Header.LastBatch),
		zap.Bool("oom", b.Header.OutOfMemory),
	)
	return nil
}

func (p *Publisher) observe(topic, status string) {
	if p.metrics != nil {
		p.metrics.IncBatchesPublished(topic, status)
	}
}

// Close closes the Kafka producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

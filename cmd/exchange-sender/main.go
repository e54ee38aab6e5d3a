// Command exchange-sender simulates the upstream fragments of one exchange
// by publishing batches of generated rows to the exchange's topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/config"
	"github.com/jittakal/kafexchange/internal/config/dto"
	"github.com/jittakal/kafexchange/internal/kafka"
	"github.com/jittakal/kafexchange/internal/observability"
	"github.com/jittakal/kafexchange/internal/sender"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	exchange := flag.Int("exchange", -1, "exchange to publish to (overrides sender.exchange)")
	senders := flag.Int("senders", 0, "number of senders (overrides sender.senders)")
	batches := flag.Int("batches", -1, "data batches per sender (overrides sender.batches_per_sender)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "config/application.yaml"
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *exchange >= 0 {
		cfg.Sender.Exchange = *exchange
	}
	if *senders > 0 {
		cfg.Sender.Senders = *senders
	}
	if *batches >= 0 {
		cfg.Sender.BatchesPerSender = *batches
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	acks, err := requiredAcks(cfg.Kafka.Producer.RequiredAcks)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	publisher, err := kafka.NewPublisher(publisherConfig(cfg, acks), logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close publisher", zap.Error(err))
		}
	}()

	sim, err := sender.New(simulatorConfig(cfg), publisher, logger)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting exchange sender",
		zap.String("query_id", cfg.Fragment.QueryID),
		zap.Int("exchange", cfg.Sender.Exchange),
		zap.String("topic", kafka.TopicName(cfg.Kafka.TopicPrefix, cfg.Sender.Exchange)),
		zap.Int("senders", cfg.Sender.Senders),
		zap.Int("batches_per_sender", cfg.Sender.BatchesPerSender),
	)

	if err := sim.Run(ctx); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	return nil
}

func requiredAcks(name string) (int, error) {
	switch name {
	case "", "all", "-1":
		return -1, nil
	case "leader", "1":
		return 1, nil
	case "none", "0":
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported kafka.producer.required_acks %q", name)
	}
}

func publisherConfig(cfg *dto.ApplicationConfig, acks int) kafka.PublisherConfig {
	sec := cfg.Kafka.Security
	return kafka.PublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		TopicPrefix: cfg.Kafka.TopicPrefix,
		Security: kafka.SecurityConfig{
			Protocol:      sec.Protocol,
			SASLMechanism: sec.SASLMechanism,
			SASLUsername:  sec.SASLUsername,
			SASLPassword:  sec.SASLPassword,
			AWSRegion:     sec.AWSRegion,
			TLS: kafka.TLSConfig{
				CACertFile:         sec.TLS.CACertFile,
				ClientCertFile:     sec.TLS.ClientCertFile,
				ClientKeyFile:      sec.TLS.ClientKeyFile,
				InsecureSkipVerify: sec.TLS.InsecureSkipVerify,
			},
		},
		RequiredAcks:    acks,
		Compression:     cfg.Kafka.Producer.Compression,
		MaxMessageBytes: cfg.Kafka.Producer.MaxMessageBytes,
		Idempotent:      cfg.Kafka.Producer.Idempotent,
		RetryMax:        cfg.Kafka.Producer.RetryMax,
		RetryBackoffMS:  cfg.Kafka.Producer.RetryBackoffMS,
	}
}

func simulatorConfig(cfg *dto.ApplicationConfig) sender.Config {
	return sender.Config{
		QueryID:          cfg.Fragment.QueryID,
		Exchange:         cfg.Sender.Exchange,
		Senders:          cfg.Sender.Senders,
		BatchesPerSender: cfg.Sender.BatchesPerSender,
		RatePerSecond:    cfg.Sender.RatePerSecond,
		Burst:            cfg.Sender.Burst,
		OOMProbability:   cfg.Sender.OOMProbability,
		MinRows:          cfg.Sender.MinRows,
		MaxRows:          cfg.Sender.MaxRows,
		Seed:             cfg.Sender.Seed,
	}
}

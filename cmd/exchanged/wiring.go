package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/collector"
	"github.com/jittakal/kafexchange/internal/config/dto"
	"github.com/jittakal/kafexchange/internal/drain"
	"github.com/jittakal/kafexchange/internal/encoder"
	"github.com/jittakal/kafexchange/internal/fragment"
	"github.com/jittakal/kafexchange/internal/kafka"
	"github.com/jittakal/kafexchange/internal/storage"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// fragmentObserver receives collector and slot measurements.
type fragmentObserver interface {
	collector.Observer
	slot.Observer
}

func securityConfig(cfg dto.SecurityConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		Protocol:      cfg.Protocol,
		SASLMechanism: cfg.SASLMechanism,
		SASLUsername:  cfg.SASLUsername,
		SASLPassword:  cfg.SASLPassword,
		AWSRegion:     cfg.AWSRegion,
		TLS: kafka.TLSConfig{
			CACertFile:         cfg.TLS.CACertFile,
			ClientCertFile:     cfg.TLS.ClientCertFile,
			ClientKeyFile:      cfg.TLS.ClientKeyFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		},
	}
}

func transportConfig(cfg *dto.ApplicationConfig) kafka.TransportConfig {
	return kafka.TransportConfig{
		Brokers:             cfg.Kafka.Brokers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		ClientID:            cfg.Kafka.ClientID,
		TopicPrefix:         cfg.Kafka.TopicPrefix,
		Exchanges:           cfg.Fragment.ExchangeIDs(),
		Security:            securityConfig(cfg.Kafka.Security),
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
	}
}

// receiver describes an exchange whose senders are the partitions of its
// topic; partition p is the sender at position p.
func receiver(topicPrefix string, ex dto.ExchangeConfig) batch.Receiver {
	topic := kafka.TopicName(topicPrefix, ex.ID)
	endpoints := make([]batch.Endpoint, ex.Senders)
	for pos := range endpoints {
		endpoints[pos] = batch.Endpoint{
			Address:         fmt.Sprintf("%s/%d", topic, pos),
			MinorFragmentID: pos,
		}
	}
	return batch.Receiver{
		OppositeMajorFragmentID: ex.ID,
		ProvidingEndpoints:      endpoints,
		OutOfOrder:              ex.OutOfOrder,
	}
}

func fragmentConfig(cfg *dto.ApplicationConfig, logger *zap.Logger, observer fragmentObserver) fragment.Config {
	exchanges := make([]fragment.ExchangeConfig, len(cfg.Fragment.Exchanges))
	for i, ex := range cfg.Fragment.Exchanges {
		exchanges[i] = fragment.ExchangeConfig{
			Receiver:  receiver(cfg.Kafka.TopicPrefix, ex),
			Policy:    ex.Policy,
			MinInputs: ex.MinInputs,
			Impl:      ex.Impl,
		}
	}

	return fragment.Config{
		Exchanges:   exchanges,
		DefaultImpl: cfg.Slots.DefaultImpl,
		Settings: slot.Settings{
			SoftLimitPerSender: cfg.Slots.SoftLimitPerSender,
			HighWatermarkBytes: cfg.Slots.HighWatermarkBytes,
			LowWatermarkBytes:  cfg.Slots.LowWatermarkBytes,
			Logger:             logger,
			Observer:           observer,
		},
		OnStreamFinished: func(exchange, position int) {
			logger.Info("sender finished",
				zap.Int("exchange", exchange),
				zap.Int("sender", position),
			)
		},
		Logger:   logger,
		Observer: observer,
	}
}

func archiveFormat(name string) batch.FileFormat {
	if name == string(batch.FormatAvro) {
		return batch.FormatAvro
	}
	return batch.FormatParquet
}

func storageConfig(archive dto.ArchiveConfig) storage.Config {
	format := archiveFormat(archive.Format)
	compression := archive.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(format)
	}

	return storage.Config{
		Backend:     archive.Backend,
		Format:      format,
		Compression: compression,
		File:        storage.FileConfig{BasePath: archive.File.BasePath},
		S3: storage.S3Config{
			Bucket:       archive.S3.Bucket,
			Region:       archive.S3.Region,
			Endpoint:     archive.S3.Endpoint,
			UsePathStyle: archive.S3.UsePathStyle,
			SSEEnabled:   archive.S3.SSEEnabled,
			SSEKMSKeyID:  archive.S3.SSEKMSKeyID,
		},
		GCS: storage.GCSConfig{
			Bucket:               archive.GCS.Bucket,
			ProjectID:            archive.GCS.ProjectID,
			CredentialsFile:      archive.GCS.CredentialsFile,
			CredentialsJSON:      archive.GCS.CredentialsJSON,
			Endpoint:             archive.GCS.Endpoint,
			UseDefaultCredential: archive.GCS.UseDefaultCredential,
		},
		Azure: storage.AzureConfig{
			AccountName:   archive.Azure.AccountName,
			AccountKey:    archive.Azure.AccountKey,
			ContainerName: archive.Azure.Container,
			Endpoint:      archive.Azure.Endpoint,
		},
	}
}

func archiveBucket(archive dto.ArchiveConfig) string {
	switch archive.Backend {
	case storage.BackendS3:
		return archive.S3.Bucket
	case storage.BackendAzure:
		return archive.Azure.Container
	case storage.BackendGCS:
		return archive.GCS.Bucket
	default:
		// the file writer resolves paths below its own base path
		return ""
	}
}

func archiveRouter(archive dto.ArchiveConfig) *storage.DefaultRouter {
	if !archive.Enabled || archive.Backend == "" {
		return storage.NewRouter(storage.Protocol(storage.BackendFile), "", archive.BasePath)
	}
	return storage.NewRouter(storage.Protocol(archive.Backend), archiveBucket(archive), archive.BasePath)
}

func rotationPolicy(rotation dto.RotationConfig) *storage.CompositePolicy {
	return storage.NewPolicy(storage.PolicyConfig{
		MaxFileSizeMB:      rotation.MaxFileSizeMB,
		MaxRecordsPerFile:  rotation.MaxRecordsPerFile,
		MaxDurationSeconds: rotation.MaxDurationSeconds,
	})
}

func drainConfig(cfg *dto.ApplicationConfig) drain.Config {
	return drain.Config{
		WorkerPoolSize:    cfg.Processing.WorkerPoolSize,
		MaxSegmentBytes:   cfg.Archive.Rotation.MaxFileSizeMB * 1024 * 1024,
		MaxSegmentRecords: cfg.Archive.Rotation.MaxRecordsPerFile,
		AgeCheckInterval:  time.Duration(cfg.Processing.AgeCheckIntervalMS) * time.Millisecond,
		WriteRetries:      cfg.Processing.WriteRetries,
		RetryBackoff:      time.Duration(cfg.Processing.RetryBackoffMS) * time.Millisecond,
	}
}

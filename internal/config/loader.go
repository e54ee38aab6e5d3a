// Package config loads the exchange configuration from YAML and the
// environment.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafexchange/internal/config/dto"
	"github.com/jittakal/kafexchange/internal/errors"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !stderrors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only values containing ${...} are expanded.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafexchange")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.client_id", "kafexchange")
	l.v.SetDefault("kafka.topic_prefix", "exchange.")
	l.v.SetDefault("kafka.security.protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.producer.required_acks", "all")
	l.v.SetDefault("kafka.producer.compression", "snappy")
	l.v.SetDefault("kafka.producer.max_message_bytes", 1000000)
	l.v.SetDefault("kafka.producer.idempotent", true)
	l.v.SetDefault("kafka.producer.retry_max", 5)
	l.v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// Slot defaults
	l.v.SetDefault("slots.default_impl", "unlimited")
	l.v.SetDefault("slots.soft_limit_per_sender", 3)
	l.v.SetDefault("slots.high_watermark_bytes", 8*1024*1024)
	l.v.SetDefault("slots.low_watermark_bytes", 2*1024*1024)

	// Archive defaults
	l.v.SetDefault("archive.enabled", true)
	l.v.SetDefault("archive.backend", "file")
	l.v.SetDefault("archive.format", "parquet")
	l.v.SetDefault("archive.file.base_path", "./data")
	l.v.SetDefault("archive.s3.sse_enabled", true)
	l.v.SetDefault("archive.rotation.max_file_size_mb", 128)
	l.v.SetDefault("archive.rotation.max_records_per_file", 100000)
	l.v.SetDefault("archive.rotation.max_duration_seconds", 300)

	// Processing defaults
	l.v.SetDefault("processing.worker_pool_size", 4)
	l.v.SetDefault("processing.write_retries", 3)
	l.v.SetDefault("processing.retry_backoff_ms", 200)
	l.v.SetDefault("processing.age_check_interval_ms", 1000)

	// Sender defaults
	l.v.SetDefault("sender.senders", 1)
	l.v.SetDefault("sender.batches_per_sender", 10)
	l.v.SetDefault("sender.rate_per_second", 10)
	l.v.SetDefault("sender.burst", 1)
	l.v.SetDefault("sender.min_rows", 1)
	l.v.SetDefault("sender.max_rows", 100)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.health.port", 8080)

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	if config.Kafka.Consumer.GroupID == "" {
		return &errors.ConfigurationError{Field: "kafka.consumer.group_id", Reason: "required"}
	}

	switch strings.ToLower(config.Slots.DefaultImpl) {
	case "unlimited", "accounted":
	default:
		return &errors.ConfigurationError{
			Field:  "slots.default_impl",
			Reason: fmt.Sprintf("unsupported slot implementation %q", config.Slots.DefaultImpl),
		}
	}
	if err := config.Slots.Validate(); err != nil {
		return err
	}

	for i, ex := range config.Fragment.Exchanges {
		switch ex.Policy {
		case "", "merging", "partitioned":
		default:
			return &errors.ConfigurationError{
				Field:  fmt.Sprintf("fragment.exchanges[%d].policy", i),
				Reason: fmt.Sprintf("unsupported policy %q", ex.Policy),
			}
		}
	}

	if config.Archive.Enabled {
		if err := validateArchive(&config.Archive); err != nil {
			return err
		}
	}

	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return &errors.ConfigurationError{
			Field:  "observability.metrics.port",
			Reason: fmt.Sprintf("invalid port %d", config.Observability.Metrics.Port),
		}
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return &errors.ConfigurationError{
			Field:  "observability.health.port",
			Reason: fmt.Sprintf("invalid port %d", config.Observability.Health.Port),
		}
	}
	if config.Observability.Metrics.Enabled && config.Observability.Metrics.Port == config.Observability.Health.Port {
		return &errors.ConfigurationError{
			Field:  "observability.metrics.port",
			Reason: "must differ from observability.health.port",
		}
	}

	return nil
}

func validateArchive(archive *dto.ArchiveConfig) error {
	switch archive.Backend {
	case "s3":
		if err := archive.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := archive.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if err := archive.GCS.Validate(); err != nil {
			return err
		}
	case "file":
		if err := archive.File.Validate(); err != nil {
			return err
		}
	default:
		return &errors.ConfigurationError{
			Field:  "archive.backend",
			Reason: fmt.Sprintf("unsupported storage backend %q", archive.Backend),
		}
	}

	if archive.Format != "parquet" && archive.Format != "avro" {
		return &errors.ConfigurationError{
			Field:  "archive.format",
			Reason: fmt.Sprintf("unsupported storage format %q", archive.Format),
		}
	}
	return nil
}

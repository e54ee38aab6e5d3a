package dto

import (
	"fmt"

	"github.com/jittakal/kafexchange/internal/errors"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Fragment      FragmentConfig      `mapstructure:"fragment"`
	Slots         SlotsConfig         `mapstructure:"slots"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Sender        SenderConfig        `mapstructure:"sender"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	Brokers     []string       `mapstructure:"brokers"`
	ClientID    string         `mapstructure:"client_id"`
	TopicPrefix string         `mapstructure:"topic_prefix"`
	Security    SecurityConfig `mapstructure:"security"`
	Consumer    ConsumerConfig `mapstructure:"consumer"`
	Producer    ProducerConfig `mapstructure:"producer"`
	DLQ         DLQConfig      `mapstructure:"dlq"`
}

// SecurityConfig contains broker authentication settings
type SecurityConfig struct {
	Protocol      string    `mapstructure:"protocol"`
	SASLMechanism string    `mapstructure:"sasl_mechanism"`
	SASLUsername  string    `mapstructure:"sasl_username"`
	SASLPassword  string    `mapstructure:"sasl_password"`
	AWSRegion     string    `mapstructure:"aws_region"`
	TLS           TLSConfig `mapstructure:"tls"`
}

// TLSConfig contains TLS file locations
type TLSConfig struct {
	CACertFile         string `mapstructure:"ca_cert_file"`
	ClientCertFile     string `mapstructure:"client_cert_file"`
	ClientKeyFile      string `mapstructure:"client_key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ConsumerConfig contains Kafka consumer group configuration
type ConsumerConfig struct {
	GroupID             string `mapstructure:"group_id"`
	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int    `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int    `mapstructure:"heartbeat_interval_ms"`
}

// ProducerConfig contains settings of the sender producer
type ProducerConfig struct {
	RequiredAcks    string `mapstructure:"required_acks"`
	Compression     string `mapstructure:"compression"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
	Idempotent      bool   `mapstructure:"idempotent"`
	RetryMax        int    `mapstructure:"retry_max"`
	RetryBackoffMS  int    `mapstructure:"retry_backoff_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// FragmentConfig describes the receiving fragment
type FragmentConfig struct {
	QueryID         string           `mapstructure:"query_id"`
	MajorFragmentID int              `mapstructure:"major_fragment_id"`
	Exchanges       []ExchangeConfig `mapstructure:"exchanges"`
}

// ExchangeConfig describes one incoming exchange
type ExchangeConfig struct {
	ID         int    `mapstructure:"id"`
	Senders    int    `mapstructure:"senders"`
	OutOfOrder bool   `mapstructure:"out_of_order"`
	Policy     string `mapstructure:"policy"`
	MinInputs  int    `mapstructure:"min_inputs"`
	Impl       string `mapstructure:"impl"`
}

// SlotsConfig contains slot implementation settings
type SlotsConfig struct {
	DefaultImpl        string `mapstructure:"default_impl"`
	SoftLimitPerSender int    `mapstructure:"soft_limit_per_sender"`
	HighWatermarkBytes int64  `mapstructure:"high_watermark_bytes"`
	LowWatermarkBytes  int64  `mapstructure:"low_watermark_bytes"`
}

// ArchiveConfig contains the archive sink configuration
type ArchiveConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Backend     string         `mapstructure:"backend"`
	Format      string         `mapstructure:"format"`
	Compression string         `mapstructure:"compression"`
	BasePath    string         `mapstructure:"base_path"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	S3          S3Config       `mapstructure:"s3"`
	Azure       AzureConfig    `mapstructure:"azure"`
	GCS         GCSConfig      `mapstructure:"gcs"`
	File        FileConfig     `mapstructure:"file"`
}

// RotationConfig contains segment rotation settings
type RotationConfig struct {
	MaxFileSizeMB      int64 `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int   `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int   `mapstructure:"max_duration_seconds"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// ProcessingConfig contains drain settings
type ProcessingConfig struct {
	WorkerPoolSize     int `mapstructure:"worker_pool_size"`
	WriteRetries       int `mapstructure:"write_retries"`
	RetryBackoffMS     int `mapstructure:"retry_backoff_ms"`
	AgeCheckIntervalMS int `mapstructure:"age_check_interval_ms"`
}

// SenderConfig contains the sender simulator settings
type SenderConfig struct {
	Exchange         int     `mapstructure:"exchange"`
	Senders          int     `mapstructure:"senders"`
	BatchesPerSender int     `mapstructure:"batches_per_sender"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
	OOMProbability   float64 `mapstructure:"oom_probability"`
	MinRows          int     `mapstructure:"min_rows"`
	MaxRows          int     `mapstructure:"max_rows"`
	Seed             int64   `mapstructure:"seed"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

func invalid(field, reason string) error {
	return &errors.ConfigurationError{Field: field, Reason: reason}
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return invalid("application.name", "required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return invalid("kafka.brokers", "at least one broker is required")
	}
	if c.Kafka.TopicPrefix == "" {
		return invalid("kafka.topic_prefix", "required")
	}
	if err := c.Fragment.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate validates the fragment description.
func (c *FragmentConfig) Validate() error {
	if c.QueryID == "" {
		return invalid("fragment.query_id", "required")
	}
	if len(c.Exchanges) == 0 {
		return invalid("fragment.exchanges", "at least one exchange is required")
	}
	seen := make(map[int]bool, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if seen[ex.ID] {
			return invalid(fmt.Sprintf("fragment.exchanges[%d].id", i), fmt.Sprintf("duplicate exchange %d", ex.ID))
		}
		seen[ex.ID] = true
		if ex.Senders <= 0 {
			return invalid(fmt.Sprintf("fragment.exchanges[%d].senders", i), "must be positive")
		}
		if ex.MinInputs < 0 || ex.MinInputs > ex.Senders {
			return invalid(fmt.Sprintf("fragment.exchanges[%d].min_inputs", i), "must be within [0, senders]")
		}
	}
	return nil
}

// ExchangeIDs returns the configured exchange ids in order.
func (c *FragmentConfig) ExchangeIDs() []int {
	ids := make([]int, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		ids[i] = ex.ID
	}
	return ids
}

// Validate validates the watermarks of accounted slots.
func (c *SlotsConfig) Validate() error {
	if c.SoftLimitPerSender < 0 {
		return invalid("slots.soft_limit_per_sender", "cannot be negative")
	}
	if c.LowWatermarkBytes > c.HighWatermarkBytes {
		return invalid("slots.low_watermark_bytes", "must not exceed high_watermark_bytes")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return invalid("archive.s3.bucket", "required for S3 backend")
	}
	if c.Region == "" {
		return invalid("archive.s3.region", "required for S3 backend")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return invalid("archive.azure.account_name", "required for Azure backend")
	}
	if c.Container == "" {
		return invalid("archive.azure.container", "required for Azure backend")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return invalid("archive.gcs.bucket", "required for GCS backend")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return invalid("archive.file.base_path", "required for file backend")
	}
	return nil
}

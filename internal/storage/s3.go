package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// Validate checks the required fields.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.SSEKMSKeyID != "" && !c.SSEEnabled {
		return fmt.Errorf("sse_kms_key_id requires sse_enabled")
	}
	return nil
}

// S3Writer uploads archive files to S3 through the multipart uploader, with
// optional server-side encryption.
type S3Writer struct {
	*writerBase
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	ctx context.Context,
	cfg S3Config,
	format batch.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	base, err := newWriterBase(BackendS3, format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	base.logger.Info("S3 writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("format", string(format)),
		zap.String("compression", compression),
		zap.Bool("sse_enabled", cfg.SSEEnabled),
	)

	return &S3Writer{
		writerBase:  base,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
	}, nil
}

// Write encodes records to a temporary file and uploads it below path.
func (w *S3Writer) Write(ctx context.Context, records []batch.Record, path string) (int64, error) {
	if err := w.begin(records); err != nil {
		return 0, err
	}

	started := time.Now()

	tmp, stats, ext, err := w.encodeTemp(records)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp)

	file, err := os.Open(tmp)
	if err != nil {
		return 0, w.fail("file_open", tmp, err)
	}
	defer file.Close()

	key := objectKey(path, "s3") + fileName(ext, started)
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if w.sseEnabled {
		if w.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	if _, err := w.uploader.Upload(ctx, input); err != nil {
		return 0, w.fail("upload", key, err)
	}

	w.done(fmt.Sprintf("s3://%s/%s", w.bucket, key), stats, started)
	return stats.SizeBytes, nil
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.markClosed()
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// Validate checks the required fields.
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.CredentialsFile != "" && c.CredentialsJSON != "" {
		return fmt.Errorf("credentials_file and credentials_json are mutually exclusive")
	}
	return nil
}

// clientOptions maps the configured credentials to client options. Default
// credentials are used when nothing explicit is set.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	switch {
	case c.UseDefaultCredential:
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// GCSWriter streams archive files to a Google Cloud Storage bucket.
type GCSWriter struct {
	*writerBase
	client *gcs.Client
	bucket string
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	format batch.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := gcs.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	base, err := newWriterBase(BackendGCS, format, compression, logger, metrics)
	if err != nil {
		client.Close()
		return nil, err
	}

	base.logger.Info("GCS writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
		zap.String("format", string(format)),
		zap.String("compression", compression),
	)

	return &GCSWriter{writerBase: base, client: client, bucket: cfg.Bucket}, nil
}

// contentType returns the object content type for a format.
func contentType(format batch.FileFormat) string {
	if format == batch.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}

// Write encodes records to a temporary file and copies it to an object below
// path.
func (w *GCSWriter) Write(ctx context.Context, records []batch.Record, path string) (int64, error) {
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

	object := objectKey(path, "gs") + fileName(ext, started)
	ow := w.client.Bucket(w.bucket).Object(object).NewWriter(ctx)
	ow.ContentType = contentType(w.format)

	if _, err := io.Copy(ow, file); err != nil {
		ow.Close()
		return 0, w.fail("upload", object, err)
	}
	if err := ow.Close(); err != nil {
		return 0, w.fail("upload", object, err)
	}

	w.done(fmt.Sprintf("gs://%s/%s", w.bucket, object), stats, started)
	return stats.SizeBytes, nil
}

// Close closes the GCS client.
func (w *GCSWriter) Close() error {
	if !w.markClosed() {
		return nil
	}
	return w.client.Close()
}

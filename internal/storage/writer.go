package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/encoder"
	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Backend names.
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(backend, format, status string)
	ObserveFileSize(backend, format string, size float64)
	ObserveStorageWriteDuration(backend string, duration float64)
	IncStorageErrors(backend, operation string)
}

// Config selects and configures an archive backend.
type Config struct {
	Backend     string
	Format      batch.FileFormat
	Compression string

	File  FileConfig
	S3    S3Config
	GCS   GCSConfig
	Azure AzureConfig
}

// NewWriter creates the writer for cfg.Backend.
func NewWriter(ctx context.Context, cfg Config, logger *zap.Logger, metrics MetricsCollector) (storage.Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case BackendFile:
		return NewFileWriter(cfg.File, cfg.Format, cfg.Compression, logger, metrics)
	case BackendS3:
		return NewS3Writer(ctx, cfg.S3, cfg.Format, cfg.Compression, logger, metrics)
	case BackendGCS:
		return NewGCSWriter(ctx, cfg.GCS, cfg.Format, cfg.Compression, logger, metrics)
	case BackendAzure:
		return NewAzureWriter(cfg.Azure, cfg.Format, cfg.Compression, logger, metrics)
	default:
		return nil, &errors.ConfigurationError{Field: "archive.backend", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
}

// Protocol returns the URI scheme the router uses for a backend.
func Protocol(backend string) string {
	switch backend {
	case BackendGCS:
		return "gs"
	case BackendAzure:
		return "wasbs"
	default:
		return backend
	}
}

// objectKey strips "scheme://bucket/" from path, leaving the object prefix.
// A path without the scheme is returned unchanged.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, "/")
	}

	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// fileName returns a unique file name for an archive file created at now.
func fileName(ext string, now time.Time) string {
	return fmt.Sprintf("batches_%s_%s%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8], ext)
}

// writerBase holds what every backend shares: encoding, metrics, logging and
// the closed state.
type writerBase struct {
	backend        string
	format         batch.FileFormat
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
	closed         atomic.Bool
}

func newWriterBase(backend string, format batch.FileFormat, compression string, logger *zap.Logger, metrics MetricsCollector) (*writerBase, error) {
	factory := encoder.NewFactory(format, compression)
	if _, err := factory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &writerBase{
		backend:        backend,
		format:         format,
		encoderFactory: factory,
		logger:         logger.With(zap.String("backend", backend)),
		metrics:        metrics,
	}, nil
}

// begin rejects writes after Close and empty record sets.
func (w *writerBase) begin(records []batch.Record) error {
	if w.closed.Load() {
		return errors.ErrWriterClosed
	}
	if len(records) == 0 {
		return fmt.Errorf("no records to write")
	}
	return nil
}

// encodeTemp encodes records into a temporary file for upload.
func (w *writerBase) encodeTemp(records []batch.Record) (string, *batch.FileStats, string, error) {
	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		return "", nil, "", w.fail("encoder_create", "", err)
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("%s-upload-%s%s", w.backend, uuid.NewString(), enc.FileExtension()))
	stats, err := enc.Encode(tmp, records)
	if err != nil {
		os.Remove(tmp)
		return "", nil, "", w.fail("encode", tmp, err)
	}
	return tmp, stats, enc.FileExtension(), nil
}

func (w *writerBase) fail(operation, path string, err error) error {
	if w.metrics != nil {
		w.metrics.IncStorageErrors(w.backend, operation)
	}
	return &errors.StorageError{Operation: operation, Path: path, Err: err}
}

func (w *writerBase) done(location string, stats *batch.FileStats, started time.Time) {
	duration := time.Since(started)

	w.logger.Info("wrote records",
		zap.String("location", location),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.String("format", string(w.format)),
		zap.Int64("total_duration_ms", duration.Milliseconds()),
	)

	if w.metrics != nil {
		w.metrics.IncFilesWritten(w.backend, string(w.format), "success")
		w.metrics.ObserveFileSize(w.backend, string(w.format), float64(stats.SizeBytes))
		w.metrics.ObserveStorageWriteDuration(w.backend, duration.Seconds())
	}
}

func (w *writerBase) markClosed() bool {
	if !w.closed.CompareAndSwap(false, true) {
		return false
	}
	w.logger.Info("closing writer")
	return true
}

var _ storage.Writer = (*DiscardWriter)(nil)

// DiscardWriter accepts records without storing them. It backs the drainer
// when archiving is disabled.
type DiscardWriter struct {
	logger  *zap.Logger
	records atomic.Int64
	closed  atomic.Bool
}

// NewDiscardWriter creates a writer that drops every record.
func NewDiscardWriter(logger *zap.Logger) *DiscardWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscardWriter{logger: logger}
}

// Write counts and drops records.
func (w *DiscardWriter) Write(_ context.Context, records []batch.Record, path string) (int64, error) {
	if w.closed.Load() {
		return 0, errors.ErrWriterClosed
	}
	w.records.Add(int64(len(records)))
	w.logger.Debug("discarded records", zap.String("path", path), zap.Int("record_count", len(records)))
	return 0, nil
}

// Discarded returns the number of records dropped so far.
func (w *DiscardWriter) Discarded() int64 {
	return w.records.Load()
}

// Close marks the writer closed.
func (w *DiscardWriter) Close() error {
	w.closed.Store(true)
	return nil
}

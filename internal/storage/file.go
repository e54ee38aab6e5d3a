package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter writes archive files below a local base directory. Router paths
// with the file:// scheme are resolved relative to it.
type FileWriter struct {
	*writerBase
	basePath string
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format batch.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	base, err := newWriterBase(BackendFile, format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	base.logger.Info("filesystem writer created",
		zap.String("base_path", config.BasePath),
		zap.String("format", string(format)),
		zap.String("compression", compression),
	)

	return &FileWriter{writerBase: base, basePath: config.BasePath}, nil
}

// Write encodes records directly into a file below path.
func (w *FileWriter) Write(ctx context.Context, records []batch.Record, path string) (int64, error) {
	if err := w.begin(records); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	started := time.Now()

	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		return 0, w.fail("encoder_create", path, err)
	}

	dir := filepath.Join(w.basePath, strings.TrimPrefix(path, "file://"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, w.fail("create", dir, err)
	}

	fullPath := filepath.Join(dir, fileName(enc.FileExtension(), started))
	stats, err := enc.Encode(fullPath, records)
	if err != nil {
		return 0, w.fail("write", fullPath, err)
	}

	w.done(fullPath, stats, started)
	return stats.SizeBytes, nil
}

// Close closes the writer. Later writes fail with errors.ErrWriterClosed.
func (w *FileWriter) Close() error {
	w.markClosed()
	return nil
}

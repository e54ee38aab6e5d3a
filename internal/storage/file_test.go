package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	apperrors "github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
)

func TestNewFileWriter(t *testing.T) {
	tests := []struct {
		name    string
		config  FileConfig
		format  batch.FileFormat
		wantErr bool
	}{
		{name: "parquet", config: FileConfig{BasePath: filepath.Join(t.TempDir(), "parquet")}, format: batch.FormatParquet},
		{name: "avro", config: FileConfig{BasePath: filepath.Join(t.TempDir(), "avro")}, format: batch.FormatAvro},
		{name: "missing base path", config: FileConfig{}, format: batch.FormatParquet, wantErr: true},
		{name: "unknown format", config: FileConfig{BasePath: t.TempDir()}, format: "orc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, err := NewFileWriter(tt.config, tt.format, "snappy", zaptest.NewLogger(t), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFileWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if writer.basePath != tt.config.BasePath {
				t.Errorf("basePath = %v, want %v", writer.basePath, tt.config.BasePath)
			}
			if _, err := os.Stat(tt.config.BasePath); err != nil {
				t.Errorf("base path not created: %v", err)
			}
		})
	}
}

func TestFileWriter_Write(t *testing.T) {
	basePath := t.TempDir()
	metrics := &mockMetricsCollector{}

	writer, err := NewFileWriter(FileConfig{BasePath: basePath}, batch.FormatParquet, "snappy", zaptest.NewLogger(t), metrics)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	path := NewRouter("file", "local", "archive").Route(batch.SlotID{Exchange: 1, Slot: 2}, testRecords(1)[0].SentAt)
	size, err := writer.Write(context.Background(), testRecords(3), path)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if size <= 0 {
		t.Errorf("size = %d, want > 0", size)
	}

	dir := filepath.Join(basePath, strings.TrimPrefix(path, "file://"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("files written = %d, want 1", len(entries))
	}
	if !strings.HasSuffix(entries[0].Name(), ".parquet") {
		t.Errorf("file name = %v, want .parquet suffix", entries[0].Name())
	}

	if metrics.filesWritten != 1 {
		t.Errorf("filesWritten = %d, want 1", metrics.filesWritten)
	}
	if metrics.lastBackend != BackendFile || metrics.lastFormat != "parquet" || metrics.lastFileStatus != "success" {
		t.Errorf("metrics labels = %s/%s/%s", metrics.lastBackend, metrics.lastFormat, metrics.lastFileStatus)
	}
	if len(metrics.fileSizes) != 1 || metrics.fileSizes[0] != float64(size) {
		t.Errorf("fileSizes = %v, want [%d]", metrics.fileSizes, size)
	}
}

func TestFileWriter_WriteTwiceSameDirectory(t *testing.T) {
	basePath := t.TempDir()
	writer, err := NewFileWriter(FileConfig{BasePath: basePath}, batch.FormatAvro, "none", zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := writer.Write(context.Background(), testRecords(1), "slot"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(basePath, "slot"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("files written = %d, want 2", len(entries))
	}
}

func TestFileWriter_WriteErrors(t *testing.T) {
	writer, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, batch.FormatParquet, "snappy", zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	if _, err := writer.Write(context.Background(), nil, "x"); err == nil {
		t.Error("expected error for empty records")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := writer.Write(ctx, testRecords(1), "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want %v", err, context.Canceled)
	}
}

func TestFileWriter_Close(t *testing.T) {
	writer, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, batch.FormatParquet, "snappy", zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	_, err = writer.Write(context.Background(), testRecords(1), "x")
	if !errors.Is(err, apperrors.ErrWriterClosed) {
		t.Errorf("Write() after Close error = %v, want %v", err, apperrors.ErrWriterClosed)
	}
}

func TestFileWriter_CreateFailureIsStorageError(t *testing.T) {
	basePath := t.TempDir()
	metrics := &mockMetricsCollector{}
	writer, err := NewFileWriter(FileConfig{BasePath: basePath}, batch.FormatParquet, "snappy", zaptest.NewLogger(t), metrics)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	// a regular file where the directory should go
	if err := os.WriteFile(filepath.Join(basePath, "blocked"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = writer.Write(context.Background(), testRecords(1), "blocked/slot=0/")
	var serr *apperrors.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("Write() error = %v, want *StorageError", err)
	}
	if serr.Operation != "create" {
		t.Errorf("Operation = %v, want create", serr.Operation)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("create failures should be retryable")
	}
	if metrics.storageErrors != 1 || metrics.lastErrorOperation != "create" {
		t.Errorf("storage errors = %d (%s), want 1 (create)", metrics.storageErrors, metrics.lastErrorOperation)
	}
}

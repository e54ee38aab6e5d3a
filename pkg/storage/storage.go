// Package storage defines interfaces for archiving drained batches.
//
// This package provides abstractions for writing records to various
// storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"
	"time"

	"github.com/jittakal/kafexchange/pkg/batch"
)

// Writer writes archived records to storage.
type Writer interface {
	// Write writes records as one file under the directory path and
	// returns the number of bytes written.
	Write(ctx context.Context, records []batch.Record, path string) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage directories for slots.
type Router interface {
	// Route returns the directory for records of a slot with the given
	// event time.
	Route(id batch.SlotID, eventTime time.Time) string
}

// RotationPolicy determines when a segment buffer is flushed to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if the buffer should be flushed based on stats.
	ShouldRotate(stats batch.FileStats) bool
}

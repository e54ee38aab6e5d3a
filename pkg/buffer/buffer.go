// Package buffer defines interfaces for archive segment buffering.
//
// Segment buffers collect drained records per slot before they are written
// to storage, so each archive file holds a run of one slot's batches.
package buffer

import (
	"github.com/jittakal/kafexchange/pkg/batch"
)

// Buffer accumulates records for one slot.
// All implementations must be thread-safe.
type Buffer interface {
	// Add adds a record to the buffer.
	// Returns an error if the buffer is full or capacity would be exceeded.
	Add(record batch.Record) error

	// Drain removes and returns all records from the buffer.
	Drain() []batch.Record

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() batch.FileStats

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool

	// Reset clears the buffer and resets all statistics.
	Reset()
}

// Manager creates and manages buffers for slots.
type Manager interface {
	// GetOrCreate returns the buffer for the given slot, creating one if
	// it doesn't exist.
	GetOrCreate(id batch.SlotID) Buffer
}

package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/buffer"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.Buffer = (*SegmentBuffer)(nil)

// SegmentBuffer collects drained records of a single slot until they are
// written out as one archive file.
type SegmentBuffer struct {
	slotID         batch.SlotID
	records        []batch.Record
	maxSizeBytes   int64
	maxRecords     int
	currentSize    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
	mu             sync.RWMutex
}

// New creates a segment buffer for one slot.
func New(slotID batch.SlotID, maxSizeBytes int64, maxRecords int) *SegmentBuffer {
	return &SegmentBuffer{
		slotID:       slotID,
		records:      make([]batch.Record, 0, maxRecords),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// SlotID returns the slot the buffer belongs to.
func (b *SegmentBuffer) SlotID() batch.SlotID {
	return b.slotID
}

// Add appends a record. It fails with errors.ErrBufferFull when either limit
// would be exceeded; the caller flushes and retries.
func (b *SegmentBuffer) Add(record batch.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordSize := estimateSize(record)

	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	// an oversized record is still accepted into an empty buffer
	if b.maxSizeBytes > 0 && len(b.records) > 0 && b.currentSize+recordSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, record)
	b.currentSize += recordSize

	now := time.Now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all records. The returned slice is owned by the
// caller.
func (b *SegmentBuffer) Drain() []batch.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.reset()
	return records
}

// Stats returns current buffer statistics.
func (b *SegmentBuffer) Stats() batch.FileStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return batch.FileStats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *SegmentBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *SegmentBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *SegmentBuffer) reset() {
	b.records = make([]batch.Record, 0, b.maxRecords)
	b.currentSize = 0
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// estimateSize estimates the archived size of a record in bytes.
func estimateSize(record batch.Record) int64 {
	size := len(record.BatchID) + len(record.QueryID) + len(record.Body)
	// fixed-width columns: exchange, sender, slot, sequence, count, last, three timestamps
	size += 8*5 + 1 + 8*3
	return int64(size)
}

// Manager manages segment buffers for every slot of the fragment.
// Buffers are created on demand under double-checked locking.
type Manager struct {
	buffers      map[batch.SlotID]*SegmentBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[batch.SlotID]*SegmentBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns the buffer for the slot, creating it if needed.
func (m *Manager) GetOrCreate(id batch.SlotID) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[id]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if buf, exists := m.buffers[id]; exists {
		return buf
	}

	buf = New(id, m.maxSizeBytes, m.maxRecords)
	m.buffers[id] = buf
	return buf
}

// Slots returns the ids of every buffer, ordered by exchange then slot.
func (m *Manager) Slots() []batch.SlotID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]batch.SlotID, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Exchange != ids[j].Exchange {
			return ids[i].Exchange < ids[j].Exchange
		}
		return ids[i].Slot < ids[j].Slot
	})
	return ids
}

// Remove drops the buffer of a slot that has reached end-of-data.
func (m *Manager) Remove(id batch.SlotID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, id)
}

package batch

import (
	"fmt"
	"time"
)

// Header holds the fields of a batch the receiver reads.
type Header struct {
	QueryID                 string
	OppositeMajorFragmentID int
	SenderPosition          int
	Sequence                int64
	RecordCount             int

	// OutOfMemory marks a signal that the sender ran out of memory.
	OutOfMemory bool
	// LastBatch marks the terminal batch of a sender's stream.
	LastBatch bool

	SentAt time.Time
}

// RawBatch is a batch as delivered by the transport.
type RawBatch struct {
	ID         string
	Header     Header
	Body       []byte
	Connection Connection
	ArrivedAt  time.Time
}

// Size returns the number of bytes accounted against slot limits.
func (b *RawBatch) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Body))
}

// IsSignal reports whether the batch is an out-of-memory signal without payload.
func (b *RawBatch) IsSignal() bool {
	return b != nil && b.Header.OutOfMemory && len(b.Body) == 0
}

// Signal returns a copy of an out-of-memory batch without its payload and
// without the terminal flag, for delivery to slots other than the sender's.
func (b *RawBatch) Signal() *RawBatch {
	h := b.Header
	h.RecordCount = 0
	h.LastBatch = false
	return &RawBatch{
		ID:         b.ID,
		Header:     h,
		Connection: b.Connection,
		ArrivedAt:  b.ArrivedAt,
	}
}

// Connection is the live channel a sender's batches arrive on.
// Implementations must be safe for concurrent use.
type Connection interface {
	// ID identifies the connection in logs.
	ID() string

	// SetAutoRead pauses (false) or resumes (true) reads from the connection.
	SetAutoRead(enabled bool)

	// Close releases the connection. Further batches are not read.
	Close() error
}

// Endpoint identifies one upstream fragment instance.
type Endpoint struct {
	Address         string
	MinorFragmentID int
}

// Receiver describes the senders feeding one exchange. A sender's position is
// its index in ProvidingEndpoints.
type Receiver struct {
	OppositeMajorFragmentID int
	ProvidingEndpoints      []Endpoint
	// OutOfOrder is set when any single sender is enough to start consuming.
	OutOfOrder bool
}

// SenderCount returns the number of providing endpoints.
func (r *Receiver) SenderCount() int {
	return len(r.ProvidingEndpoints)
}

// SlotID identifies one buffer slot within a fragment.
type SlotID struct {
	Exchange int
	Slot     int
}

// String returns "exchange-<id>-slot-<n>".
func (s SlotID) String() string {
	return fmt.Sprintf("exchange-%d-slot-%d", s.Exchange, s.Slot)
}

// Record is a drained batch ready for archival.
type Record struct {
	BatchID     string
	QueryID     string
	Exchange    int
	Sender      int
	Slot        int
	Sequence    int64
	RecordCount int
	Last        bool
	Body        []byte
	SentAt      time.Time
	ArrivedAt   time.Time
	DrainedAt   time.Time
}

// NewRecord converts a batch dequeued from slot into a Record.
func NewRecord(b *RawBatch, slot int, drainedAt time.Time) Record {
	return Record{
		BatchID:     b.ID,
		QueryID:     b.Header.QueryID,
		Exchange:    b.Header.OppositeMajorFragmentID,
		Sender:      b.Header.SenderPosition,
		Slot:        slot,
		Sequence:    b.Header.Sequence,
		RecordCount: b.Header.RecordCount,
		Last:        b.Header.LastBatch,
		Body:        b.Body,
		SentAt:      b.Header.SentAt,
		ArrivedAt:   b.ArrivedAt,
		DrainedAt:   drainedAt,
	}
}

// EventTime returns the send time, falling back to the arrival time.
func (r *Record) EventTime() time.Time {
	if !r.SentAt.IsZero() {
		return r.SentAt
	}
	return r.ArrivedAt
}

// FileStats contains statistics about buffered records.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the archive file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

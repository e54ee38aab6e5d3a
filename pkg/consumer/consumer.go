// Package consumer defines the interfaces between the Kafka transport and the
// receiving fragment.
//
// The transport decodes each Kafka message into a batch and hands it to a
// Sink. Messages that cannot be delivered are published to a dead letter
// queue; a malformed header also fails the fragment through a
// FailureReporter.
package consumer

import (
	"context"
	"time"

	"github.com/jittakal/kafexchange/pkg/batch"
)

// Sink receives batches decoded by the transport.
type Sink interface {
	// BatchArrived delivers one batch. It returns true exactly once, when
	// the receiving fragment becomes runnable.
	BatchArrived(b *batch.RawBatch) (bool, error)
}

// FailureReporter is the receiving fragment's failure path. The transport
// reports batches whose header cannot be trusted through it.
type FailureReporter interface {
	Fail(err error)
}

// DeadLetter is a message the transport could not deliver.
type DeadLetter struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Reason    string
	FailedAt  time.Time
}

// DLQPublisher publishes dead letters.
type DLQPublisher interface {
	// Publish sends a dead letter to the DLQ.
	Publish(ctx context.Context, letter DeadLetter) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Publisher sends batches towards a receiving fragment.
type Publisher interface {
	Publish(ctx context.Context, b *batch.RawBatch) error
	Close() error
}

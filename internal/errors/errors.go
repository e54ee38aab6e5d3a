// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kafexchange/pkg/batch"
)

// Sentinel errors for common conditions.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrBufferInstantiation  = errors.New("buffer instantiation failed")
	ErrProtocolViolation    = errors.New("protocol violation")

	ErrEndOfData       = errors.New("end of data")
	ErrSlotClosed      = errors.New("slot is closed")
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrFragmentFailed  = errors.New("fragment failed")
	ErrBufferFull      = errors.New("buffer is full")
	ErrTransportClosed = errors.New("transport is closed")
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrWriterClosed    = errors.New("storage writer is closed")
	ErrInvalidEnvelope = errors.New("invalid batch envelope")
	ErrConnectionLost  = errors.New("connection lost")
)

// ConfigurationError reports a bad construction argument.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: field=%s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// InstantiationError reports that a configured slot implementation could not
// be created.
type InstantiationError struct {
	Impl string
	Slot batch.SlotID
	Err  error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("buffer instantiation failed: impl=%s slot=%s: %v", e.Impl, e.Slot, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

func (e *InstantiationError) Is(target error) bool {
	return target == ErrBufferInstantiation
}

// ProtocolViolationError reports a batch that breaks the exchange protocol,
// such as data after a sender's terminal batch.
type ProtocolViolationError struct {
	Exchange int
	Sender   int
	BatchID  string
	Reason   string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: exchange=%d sender=%d batch_id=%s: %s",
		e.Exchange, e.Sender, e.BatchID, e.Reason)
}

func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// DecodeError represents a Kafka message that could not be turned into a batch.
type DecodeError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: topic=%s partition=%d offset=%d: %v",
		e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError represents an envelope validation failure.
type ValidationError struct {
	BatchID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: batch_id=%s field=%s: %s",
		e.BatchID, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEnvelope
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// The collector never retries; this only guides the archive sink and the
// transport.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsFatal reports whether err must fail the owning fragment.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrBufferInstantiation) ||
		errors.Is(err, ErrProtocolViolation)
}

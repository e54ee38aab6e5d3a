package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/internal/validator"
	"github.com/jittakal/kafexchange/pkg/batch"
)

// BatchEventType is the CloudEvents type of every batch envelope.
const BatchEventType = "io.kafexchange.batch"

// BatchContentType is the content type of a batch body.
const BatchContentType = "application/octet-stream"

// CloudEvents extension attributes carrying the batch header.
const (
	ExtQueryID     = "queryid"
	ExtExchange    = "exchange"
	ExtSender      = "sender"
	ExtSequence    = "sequence"
	ExtRecordCount = "recordcount"
	ExtOutOfMemory = "outofmemory"
	ExtLastBatch   = "lastbatch"
)

// Codec converts batches to and from structured-mode CloudEvents.
type Codec struct {
	source    string
	validator *validator.EnvelopeValidator
}

// NewCodec creates a codec. Encoded events use source when set, otherwise a
// source derived from the sender.
func NewCodec(source string) *Codec {
	return &Codec{
		source: source,
		validator: validator.NewEnvelopeValidator(BatchEventType,
			ExtQueryID, ExtExchange, ExtSender, ExtSequence),
	}
}

// Encode serializes a batch as a JSON CloudEvent.
func (c *Codec) Encode(b *batch.RawBatch) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("encode: nil batch")
	}

	h := b.Header
	event := cloudevents.NewEvent()
	event.SetID(b.ID)
	event.SetType(BatchEventType)
	event.SetSource(c.sourceFor(h))
	event.SetSubject(h.QueryID)
	if !h.SentAt.IsZero() {
		event.SetTime(h.SentAt)
	}

	event.SetExtension(ExtQueryID, h.QueryID)
	event.SetExtension(ExtExchange, strconv.Itoa(h.OppositeMajorFragmentID))
	event.SetExtension(ExtSender, strconv.Itoa(h.SenderPosition))
	event.SetExtension(ExtSequence, strconv.FormatInt(h.Sequence, 10))
	event.SetExtension(ExtRecordCount, strconv.Itoa(h.RecordCount))
	event.SetExtension(ExtOutOfMemory, strconv.FormatBool(h.OutOfMemory))
	event.SetExtension(ExtLastBatch, strconv.FormatBool(h.LastBatch))

	if len(b.Body) > 0 {
		if err := event.SetData(BatchContentType, b.Body); err != nil {
			return nil, fmt.Errorf("encode batch %s: %w", b.ID, err)
		}
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("encode batch %s: %w", b.ID, err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cloud event: %w", err)
	}
	return data, nil
}

// Decode parses a JSON CloudEvent into a batch. Connection and ArrivedAt are
// left for the transport to set.
func (c *Codec) Decode(value []byte) (*batch.RawBatch, error) {
	event := cloudevents.NewEvent()
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cloud event: %w", err)
	}

	if err := c.validator.Validate(&event); err != nil {
		return nil, err
	}

	ext := event.Extensions()
	h := batch.Header{
		QueryID: extString(ext, ExtQueryID),
		SentAt:  event.Time(),
	}

	var err error
	if h.OppositeMajorFragmentID, err = extInt(event.ID(), ext, ExtExchange); err != nil {
		return nil, err
	}
	if h.SenderPosition, err = extInt(event.ID(), ext, ExtSender); err != nil {
		return nil, err
	}
	if h.RecordCount, err = extInt(event.ID(), ext, ExtRecordCount); err != nil {
		return nil, err
	}
	if h.Sequence, err = extInt64(event.ID(), ext, ExtSequence); err != nil {
		return nil, err
	}
	if h.OutOfMemory, err = extBool(event.ID(), ext, ExtOutOfMemory); err != nil {
		return nil, err
	}
	if h.LastBatch, err = extBool(event.ID(), ext, ExtLastBatch); err != nil {
		return nil, err
	}

	var body []byte
	if data := event.Data(); len(data) > 0 {
		body = append([]byte(nil), data...)
	}

	return &batch.RawBatch{
		ID:     event.ID(),
		Header: h,
		Body:   body,
	}, nil
}

func (c *Codec) sourceFor(h batch.Header) string {
	if c.source != "" {
		return c.source
	}
	return fmt.Sprintf("/exchanges/%d/senders/%d", h.OppositeMajorFragmentID, h.SenderPosition)
}

func extString(ext map[string]interface{}, name string) string {
	v, ok := ext[name]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func extInt64(id string, ext map[string]interface{}, name string) (int64, error) {
	s := extString(ext, name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &errors.ValidationError{BatchID: id, Field: name, Reason: fmt.Sprintf("not an integer: %q", s)}
	}
	return n, nil
}

func extInt(id string, ext map[string]interface{}, name string) (int, error) {
	n, err := extInt64(id, ext, name)
	return int(n), err
}

func extBool(id string, ext map[string]interface{}, name string) (bool, error) {
	s := extString(ext, name)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, &errors.ValidationError{BatchID: id, Field: name, Reason: fmt.Sprintf("not a boolean: %q", s)}
	}
	return v, nil
}

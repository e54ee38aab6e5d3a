// Package validator checks batch envelopes before they are decoded.
package validator

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jittakal/kafexchange/internal/errors"
)

// SupportedSpecVersion is the only CloudEvents version accepted on the wire.
const SupportedSpecVersion = cloudevents.VersionV1

// EnvelopeValidator validates the CloudEvents envelope around a batch.
type EnvelopeValidator struct {
	eventType string
	required  []string
}

// NewEnvelopeValidator creates a validator that accepts events of eventType
// carrying every extension named in required.
func NewEnvelopeValidator(eventType string, required ...string) *EnvelopeValidator {
	return &EnvelopeValidator{
		eventType: eventType,
		required:  required,
	}
}

// Validate validates an envelope.
func (v *EnvelopeValidator) Validate(e *cloudevents.Event) error {
	if e == nil {
		return &errors.ValidationError{Field: "event", Reason: "envelope is nil"}
	}

	if e.ID() == "" {
		return &errors.ValidationError{
			BatchID: e.ID(),
			Field:   "id",
			Reason:  "required field is missing",
		}
	}

	if e.Source() == "" {
		return &errors.ValidationError{
			BatchID: e.ID(),
			Field:   "source",
			Reason:  "required field is missing",
		}
	}

	if e.SpecVersion() != SupportedSpecVersion {
		return &errors.ValidationError{
			BatchID: e.ID(),
			Field:   "specversion",
			Reason:  fmt.Sprintf("unsupported version: %s (supported: %s)", e.SpecVersion(), SupportedSpecVersion),
		}
	}

	if e.Type() != v.eventType {
		return &errors.ValidationError{
			BatchID: e.ID(),
			Field:   "type",
			Reason:  fmt.Sprintf("unexpected type %q", e.Type()),
		}
	}

	ext := e.Extensions()
	for _, name := range v.required {
		if _, ok := ext[name]; !ok {
			return &errors.ValidationError{
				BatchID: e.ID(),
				Field:   name,
				Reason:  "required extension is missing",
			}
		}
	}

	return nil
}

package validator

import (
	stderrors "errors"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	apperrors "github.com/jittakal/kafexchange/internal/errors"
)

const testType = "io.kafexchange.batch"

func newEvent(mutate func(e *cloudevents.Event)) *cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID("batch-1")
	e.SetSource("/fragments/1/0")
	e.SetType(testType)
	e.SetExtension("sender", "0")
	e.SetExtension("exchange", "1")
	if mutate != nil {
		mutate(&e)
	}
	return &e
}

func TestNewEnvelopeValidator(t *testing.T) {
	validator := NewEnvelopeValidator(testType)
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestEnvelopeValidator_ValidateSuccess(t *testing.T) {
	validator := NewEnvelopeValidator(testType, "sender", "exchange")

	tests := []struct {
		name  string
		event *cloudevents.Event
	}{
		{name: "minimal envelope", event: newEvent(nil)},
		{
			name: "envelope with payload",
			event: newEvent(func(e *cloudevents.Event) {
				_ = e.SetData("application/octet-stream", []byte("rows"))
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validator.Validate(tt.event); err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestEnvelopeValidator_ValidateFailures(t *testing.T) {
	validator := NewEnvelopeValidator(testType, "sender", "exchange", "sequence")

	tests := []struct {
		name      string
		event     *cloudevents.Event
		wantField string
	}{
		{
			name:      "nil envelope",
			event:     nil,
			wantField: "event",
		},
		{
			name:      "missing id",
			event:     newEvent(func(e *cloudevents.Event) { e.SetID("") }),
			wantField: "id",
		},
		{
			name:      "missing source",
			event:     newEvent(func(e *cloudevents.Event) { e.SetSource("") }),
			wantField: "source",
		},
		{
			name:      "legacy spec version",
			event:     newEvent(func(e *cloudevents.Event) { e.SetSpecVersion(cloudevents.VersionV03) }),
			wantField: "specversion",
		},
		{
			name:      "foreign type",
			event:     newEvent(func(e *cloudevents.Event) { e.SetType("com.example.order") }),
			wantField: "type",
		},
		{
			name:      "missing extension",
			event:     newEvent(nil),
			wantField: "sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.event)
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}

			var verr *apperrors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %v, want %v", verr.Field, tt.wantField)
			}
			if !stderrors.Is(err, apperrors.ErrInvalidEnvelope) {
				t.Errorf("errors.Is(err, ErrInvalidEnvelope) = false, want true")
			}
		})
	}
}

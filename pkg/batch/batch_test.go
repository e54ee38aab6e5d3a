package batch

import (
	"testing"
	"time"
)

func TestSlotID_String(t *testing.T) {
	tests := []struct {
		name string
		id   SlotID
		want string
	}{
		{name: "first slot", id: SlotID{Exchange: 0, Slot: 0}, want: "exchange-0-slot-0"},
		{name: "other exchange", id: SlotID{Exchange: 3, Slot: 12}, want: "exchange-3-slot-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.want {
				t.Errorf("SlotID.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawBatch_IsSignal(t *testing.T) {
	tests := []struct {
		name  string
		batch *RawBatch
		want  bool
	}{
		{name: "nil batch", batch: nil, want: false},
		{name: "data batch", batch: &RawBatch{Body: []byte("rows")}, want: false},
		{name: "oom without payload", batch: &RawBatch{Header: Header{OutOfMemory: true}}, want: true},
		{name: "oom with payload", batch: &RawBatch{Header: Header{OutOfMemory: true}, Body: []byte("x")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.batch.IsSignal(); got != tt.want {
				t.Errorf("IsSignal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawBatch_Signal(t *testing.T) {
	arrived := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b := &RawBatch{
		ID: "b-7",
		Header: Header{
			QueryID:                 "q1",
			OppositeMajorFragmentID: 2,
			SenderPosition:          1,
			Sequence:                7,
			RecordCount:             40,
			OutOfMemory:             true,
			LastBatch:               true,
		},
		Body:      []byte("rows"),
		ArrivedAt: arrived,
	}

	sig := b.Signal()
	if !sig.IsSignal() {
		t.Fatal("Signal().IsSignal() = false, want true")
	}
	if sig.Header.LastBatch || sig.Header.RecordCount != 0 {
		t.Errorf("Signal() header = %+v, want no terminal flag and no records", sig.Header)
	}
	if sig.ID != b.ID || sig.Header.SenderPosition != 1 || sig.Header.Sequence != 7 || !sig.ArrivedAt.Equal(arrived) {
		t.Errorf("Signal() = %+v, want identity of %+v", sig, b)
	}
	if string(b.Body) != "rows" || !b.Header.LastBatch {
		t.Error("Signal() modified the original batch")
	}
}

func TestRawBatch_Size(t *testing.T) {
	var nilBatch *RawBatch
	if got := nilBatch.Size(); got != 0 {
		t.Errorf("nil Size() = %d, want 0", got)
	}

	b := &RawBatch{Body: make([]byte, 128)}
	if got := b.Size(); got != 128 {
		t.Errorf("Size() = %d, want 128", got)
	}
}

func TestNewRecord(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arrived := sent.Add(time.Second)
	drained := arrived.Add(time.Second)

	b := &RawBatch{
		ID: "batch-1",
		Header: Header{
			QueryID:                 "q1",
			OppositeMajorFragmentID: 4,
			SenderPosition:          2,
			Sequence:                9,
			RecordCount:             100,
			LastBatch:               true,
			SentAt:                  sent,
		},
		Body:      []byte("payload"),
		ArrivedAt: arrived,
	}

	r := NewRecord(b, 1, drained)

	if r.BatchID != "batch-1" || r.QueryID != "q1" {
		t.Errorf("ids = %q/%q, want batch-1/q1", r.BatchID, r.QueryID)
	}
	if r.Exchange != 4 || r.Sender != 2 || r.Slot != 1 {
		t.Errorf("exchange/sender/slot = %d/%d/%d, want 4/2/1", r.Exchange, r.Sender, r.Slot)
	}
	if r.Sequence != 9 || r.RecordCount != 100 || !r.Last {
		t.Errorf("sequence/count/last = %d/%d/%v, want 9/100/true", r.Sequence, r.RecordCount, r.Last)
	}
	if !r.DrainedAt.Equal(drained) {
		t.Errorf("DrainedAt = %v, want %v", r.DrainedAt, drained)
	}
}

func TestRecord_EventTime(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arrived := sent.Add(time.Minute)

	withSent := Record{SentAt: sent, ArrivedAt: arrived}
	if got := withSent.EventTime(); !got.Equal(sent) {
		t.Errorf("EventTime() = %v, want %v", got, sent)
	}

	withoutSent := Record{ArrivedAt: arrived}
	if got := withoutSent.EventTime(); !got.Equal(arrived) {
		t.Errorf("EventTime() fallback = %v, want %v", got, arrived)
	}
}

func TestReceiver_SenderCount(t *testing.T) {
	r := &Receiver{ProvidingEndpoints: []Endpoint{{MinorFragmentID: 0}, {MinorFragmentID: 1}}}
	if got := r.SenderCount(); got != 2 {
		t.Errorf("SenderCount() = %d, want 2", got)
	}
}

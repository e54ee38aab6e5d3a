package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jittakal/kafexchange/internal/collector"
	"github.com/jittakal/kafexchange/internal/drain"
	"github.com/jittakal/kafexchange/internal/kafka"
	"github.com/jittakal/kafexchange/internal/storage"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/slot"
)

var (
	_ collector.Observer       = (*Metrics)(nil)
	_ slot.Observer            = (*Metrics)(nil)
	_ kafka.MetricsCollector   = (*Metrics)(nil)
	_ drain.MetricsCollector   = (*Metrics)(nil)
	_ storage.MetricsCollector = (*Metrics)(nil)
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	t.Fatalf("metric %v is neither counter nor gauge", m.Desc())
	return 0
}

func sampleCount(t *testing.T, m prometheus.Metric) uint64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return pb.GetHistogram().GetSampleCount()
}

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestMetrics_NewMetricsTwiceOnSameRegistryPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("second NewMetrics on the same registry should panic")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_CollectorCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.IncBatchesArrived(3, 0)
	metrics.IncBatchesArrived(3, 0)
	metrics.IncBatchesArrived(3, 1)
	metrics.IncOutOfMemory(3)
	metrics.IncReady(3)
	metrics.IncProtocolViolations(4)
	metrics.SetSendersActive(3, 2)
	metrics.IncConnectionsClosed(3, "success")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"arrived sender 0", value(t, metrics.BatchesArrived.WithLabelValues("3", "0")), 2},
		{"arrived sender 1", value(t, metrics.BatchesArrived.WithLabelValues("3", "1")), 1},
		{"oom", value(t, metrics.OutOfMemory.WithLabelValues("3")), 1},
		{"ready", value(t, metrics.ExchangesReady.WithLabelValues("3")), 1},
		{"violations", value(t, metrics.ProtocolViolations.WithLabelValues("4")), 1},
		{"senders active", value(t, metrics.SendersActive.WithLabelValues("3")), 2},
		{"connections closed", value(t, metrics.ConnectionsClosed.WithLabelValues("3", "success")), 1},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMetrics_SlotMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	id := batch.SlotID{Exchange: 1, Slot: 2}

	metrics.SetSlotDepth(id, 7)
	metrics.IncBackpressure(id, true)
	metrics.IncBackpressure(id, false)
	metrics.IncBackpressure(id, true)

	if got := value(t, metrics.SlotDepth.WithLabelValues("1", "2")); got != 7 {
		t.Errorf("slot depth = %v, want 7", got)
	}
	if got := value(t, metrics.Backpressure.WithLabelValues("1", "2", "pause")); got != 2 {
		t.Errorf("pauses = %v, want 2", got)
	}
	if got := value(t, metrics.Backpressure.WithLabelValues("1", "2", "resume")); got != 1 {
		t.Errorf("resumes = %v, want 1", got)
	}
}

func TestMetrics_TransportMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.IncMessagesConsumed("exchange.1", 0)
	metrics.IncMessagesConsumed("exchange.1", 1)
	metrics.IncDecodeErrors("exchange.1")
	metrics.IncDeadLetters("exchange.1", kafka.ReasonUndecodable)
	metrics.IncRebalances("exchanged")
	metrics.ObserveRebalanceDuration("exchanged", 0.4)
	metrics.SetPartitionsAssigned("exchange.1", 4)
	metrics.IncPartitionPauses("exchange.1", true)
	metrics.IncBatchesPublished("exchange.1", "success")

	if got := value(t, metrics.MessagesConsumed.WithLabelValues("exchange.1", "1")); got != 1 {
		t.Errorf("consumed = %v, want 1", got)
	}
	if got := value(t, metrics.DeadLetters.WithLabelValues("exchange.1", kafka.ReasonUndecodable)); got != 1 {
		t.Errorf("dead letters = %v, want 1", got)
	}
	if got := value(t, metrics.PartitionsAssigned.WithLabelValues("exchange.1")); got != 4 {
		t.Errorf("assigned = %v, want 4", got)
	}
	if got := value(t, metrics.PartitionPauses.WithLabelValues("exchange.1", "pause")); got != 1 {
		t.Errorf("pauses = %v, want 1", got)
	}
	if got := sampleCount(t, metrics.RebalanceDuration.WithLabelValues("exchanged").(prometheus.Metric)); got != 1 {
		t.Errorf("rebalance samples = %d, want 1", got)
	}
}

func TestMetrics_DrainAndStorage(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	id := batch.SlotID{Exchange: 2, Slot: 0}

	metrics.IncBatchesDrained(id)
	metrics.IncSignalsDrained(id)
	metrics.IncSegmentsFlushed("success")
	metrics.IncFilesWritten("s3", "parquet", "success")
	metrics.ObserveFileSize("s3", "parquet", 2048)
	metrics.ObserveStorageWriteDuration("s3", 0.2)
	metrics.IncStorageErrors("s3", "upload")

	if got := value(t, metrics.BatchesDrained.WithLabelValues("2", "0")); got != 1 {
		t.Errorf("drained = %v, want 1", got)
	}
	if got := value(t, metrics.FilesWritten.WithLabelValues("s3", "parquet", "success")); got != 1 {
		t.Errorf("files written = %v, want 1", got)
	}
	if got := value(t, metrics.StorageErrors.WithLabelValues("s3", "upload")); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
}

func TestMetrics_ConcurrentUpdates(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.IncBatchesArrived(1, i%2)
			}
		}()
	}
	wg.Wait()

	total := value(t, metrics.BatchesArrived.WithLabelValues("1", "0")) +
		value(t, metrics.BatchesArrived.WithLabelValues("1", "1"))
	if total != 1000 {
		t.Errorf("total arrived = %v, want 1000", total)
	}
}

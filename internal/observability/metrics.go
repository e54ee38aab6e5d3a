package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jittakal/kafexchange/pkg/batch"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Collector metrics
	BatchesArrived     *prometheus.CounterVec
	OutOfMemory        *prometheus.CounterVec
	ExchangesReady     *prometheus.CounterVec
	ProtocolViolations *prometheus.CounterVec
	SendersActive      *prometheus.GaugeVec
	ConnectionsClosed  *prometheus.CounterVec

	// Slot metrics
	SlotDepth    *prometheus.GaugeVec
	Backpressure *prometheus.CounterVec

	// Transport metrics
	MessagesConsumed   *prometheus.CounterVec
	DecodeErrors       *prometheus.CounterVec
	DeadLetters        *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	PartitionPauses    *prometheus.CounterVec
	BatchesPublished   *prometheus.CounterVec

	// Drain metrics
	BatchesDrained  *prometheus.CounterVec
	SignalsDrained  *prometheus.CounterVec
	SegmentsFlushed *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		BatchesArrived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_batches_arrived_total",
				Help: "Total number of batches accepted by the collector",
			},
			[]string{"exchange", "sender"},
		),
		OutOfMemory: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_out_of_memory_signals_total",
				Help: "Total number of out-of-memory signals broadcast to slots",
			},
			[]string{"exchange"},
		),
		ExchangesReady: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_ready_total",
				Help: "Number of exchanges whose required senders have all arrived",
			},
			[]string{"exchange"},
		),
		ProtocolViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_protocol_violations_total",
				Help: "Total number of batches rejected as protocol violations",
			},
			[]string{"exchange"},
		),
		SendersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exchange_senders_active",
				Help: "Number of senders bound and not yet finished",
			},
			[]string{"exchange"},
		),
		ConnectionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_connections_closed_total",
				Help: "Total number of sender connections closed",
			},
			[]string{"exchange", "status"},
		),

		SlotDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slot_depth_batches",
				Help: "Current number of batches queued in a slot",
			},
			[]string{"exchange", "slot"},
		),
		Backpressure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slot_backpressure_toggles_total",
				Help: "Number of times a slot paused or resumed its senders",
			},
			[]string{"exchange", "slot", "action"},
		),

		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		DecodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_decode_errors_total",
				Help: "Total number of messages that could not be decoded",
			},
			[]string{"topic"},
		),
		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_dead_letters_total",
				Help: "Total number of messages sent to the dead letter queue",
			},
			[]string{"topic", "reason"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		PartitionPauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_partition_pauses_total",
				Help: "Number of partition pause and resume calls",
			},
			[]string{"topic", "action"},
		),
		BatchesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_batches_published_total",
				Help: "Total number of batches published by simulated senders",
			},
			[]string{"topic", "status"},
		),

		BatchesDrained: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drain_batches_total",
				Help: "Total number of data batches dequeued from slots",
			},
			[]string{"exchange", "slot"},
		),
		SignalsDrained: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drain_signals_total",
				Help: "Total number of out-of-memory signals dequeued from slots",
			},
			[]string{"exchange", "slot"},
		),
		SegmentsFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drain_segments_flushed_total",
				Help: "Total number of archive segments flushed",
			},
			[]string{"status"},
		),

		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"backend", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"backend", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

func toggle(on bool, whenOn, whenOff string) string {
	if on {
		return whenOn
	}
	return whenOff
}

// IncBatchesArrived increments the arrived batches counter.
func (m *Metrics) IncBatchesArrived(exchange, sender int) {
	m.BatchesArrived.WithLabelValues(strconv.Itoa(exchange), strconv.Itoa(sender)).Inc()
}

// IncOutOfMemory increments the out-of-memory signal counter.
func (m *Metrics) IncOutOfMemory(exchange int) {
	m.OutOfMemory.WithLabelValues(strconv.Itoa(exchange)).Inc()
}

// IncReady records that an exchange became ready.
func (m *Metrics) IncReady(exchange int) {
	m.ExchangesReady.WithLabelValues(strconv.Itoa(exchange)).Inc()
}

// IncProtocolViolations increments the protocol violation counter.
func (m *Metrics) IncProtocolViolations(exchange int) {
	m.ProtocolViolations.WithLabelValues(strconv.Itoa(exchange)).Inc()
}

// SetSendersActive sets the active senders gauge.
func (m *Metrics) SetSendersActive(exchange int, active float64) {
	m.SendersActive.WithLabelValues(strconv.Itoa(exchange)).Set(active)
}

// IncConnectionsClosed increments the closed connections counter.
func (m *Metrics) IncConnectionsClosed(exchange int, status string) {
	m.ConnectionsClosed.WithLabelValues(strconv.Itoa(exchange), status).Inc()
}

// SetSlotDepth sets the slot depth gauge.
func (m *Metrics) SetSlotDepth(id batch.SlotID, depth float64) {
	m.SlotDepth.WithLabelValues(strconv.Itoa(id.Exchange), strconv.Itoa(id.Slot)).Set(depth)
}

// IncBackpressure counts a pause or resume issued by a slot.
func (m *Metrics) IncBackpressure(id batch.SlotID, paused bool) {
	m.Backpressure.WithLabelValues(strconv.Itoa(id.Exchange), strconv.Itoa(id.Slot), toggle(paused, "pause", "resume")).Inc()
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// IncDecodeErrors increments the decode error counter.
func (m *Metrics) IncDecodeErrors(topic string) {
	m.DecodeErrors.WithLabelValues(topic).Inc()
}

// IncDeadLetters increments the dead letter counter.
func (m *Metrics) IncDeadLetters(topic, reason string) {
	m.DeadLetters.WithLabelValues(topic, reason).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncPartitionPauses counts a partition pause or resume.
func (m *Metrics) IncPartitionPauses(topic string, paused bool) {
	m.PartitionPauses.WithLabelValues(topic, toggle(paused, "pause", "resume")).Inc()
}

// IncBatchesPublished increments the published batches counter.
func (m *Metrics) IncBatchesPublished(topic, status string) {
	m.BatchesPublished.WithLabelValues(topic, status).Inc()
}

// IncBatchesDrained increments the drained batches counter.
func (m *Metrics) IncBatchesDrained(id batch.SlotID) {
	m.BatchesDrained.WithLabelValues(strconv.Itoa(id.Exchange), strconv.Itoa(id.Slot)).Inc()
}

// IncSignalsDrained increments the drained signals counter.
func (m *Metrics) IncSignalsDrained(id batch.SlotID) {
	m.SignalsDrained.WithLabelValues(strconv.Itoa(id.Exchange), strconv.Itoa(id.Slot)).Inc()
}

// IncSegmentsFlushed increments the flushed segments counter.
func (m *Metrics) IncSegmentsFlushed(status string) {
	m.SegmentsFlushed.WithLabelValues(status).Inc()
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(backend, format, status string) {
	m.FilesWritten.WithLabelValues(backend, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(backend, format string, size float64) {
	m.FileSize.WithLabelValues(backend, format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(backend string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(backend).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

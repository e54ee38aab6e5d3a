package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jittakal/kafexchange/internal/config/dto"
	"github.com/jittakal/kafexchange/internal/fragment"
	"github.com/jittakal/kafexchange/internal/observability"
	"github.com/jittakal/kafexchange/internal/storage"
	"github.com/jittakal/kafexchange/pkg/batch"
)

func testConfig() *dto.ApplicationConfig {
	return &dto.ApplicationConfig{
		Application: dto.ApplicationInfo{Name: "exchanged"},
		Kafka: dto.KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			TopicPrefix: "exchange.",
			Security:    dto.SecurityConfig{Protocol: "SASL_SSL", SASLMechanism: "SCRAM-SHA-512", SASLUsername: "u", SASLPassword: "p"},
			Consumer:    dto.ConsumerConfig{GroupID: "q-1-f-1", AutoOffsetReset: "earliest"},
		},
		Fragment: dto.FragmentConfig{
			QueryID:         "q-1",
			MajorFragmentID: 1,
			Exchanges: []dto.ExchangeConfig{
				{ID: 2, Senders: 3},
				{ID: 5, Senders: 2, OutOfOrder: true},
			},
		},
		Slots: dto.SlotsConfig{DefaultImpl: "unlimited", SoftLimitPerSender: 2},
		Archive: dto.ArchiveConfig{
			Enabled:  true,
			Backend:  "s3",
			Format:   "avro",
			BasePath: "exchanges",
			S3:       dto.S3Config{Bucket: "archive-bucket", Region: "us-east-1"},
			Rotation: dto.RotationConfig{MaxFileSizeMB: 2, MaxRecordsPerFile: 500, MaxDurationSeconds: 60},
		},
		Processing: dto.ProcessingConfig{WorkerPoolSize: 8, WriteRetries: 2, RetryBackoffMS: 50, AgeCheckIntervalMS: 250},
	}
}

func TestReceiver_PartitionsAreSenderPositions(t *testing.T) {
	r := receiver("exchange.", dto.ExchangeConfig{ID: 4, Senders: 3, OutOfOrder: true})

	assert.Equal(t, 4, r.OppositeMajorFragmentID)
	assert.True(t, r.OutOfOrder)
	require.Equal(t, 3, r.SenderCount())
	for pos, ep := range r.ProvidingEndpoints {
		assert.Equal(t, pos, ep.MinorFragmentID)
	}
	assert.Equal(t, "exchange.4/2", r.ProvidingEndpoints[2].Address)
}

func TestTransportConfig(t *testing.T) {
	tc := transportConfig(testConfig())

	assert.Equal(t, []int{2, 5}, tc.Exchanges)
	assert.Equal(t, "q-1-f-1", tc.GroupID)
	assert.Equal(t, "SCRAM-SHA-512", tc.Security.SASLMechanism)
	require.NoError(t, tc.Validate())
}

func TestFragmentConfig_BuildsIncomingBuffers(t *testing.T) {
	cfg := testConfig()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	fctx := fragment.NewContext(cfg.Fragment.QueryID, cfg.Fragment.MajorFragmentID, logger)
	incoming, err := fragment.NewIncomingBuffers(fctx, fragmentConfig(cfg, logger, metrics))
	require.NoError(t, err)

	exchanges := exchangesOf(incoming)
	require.Len(t, exchanges, 2)
	assert.Equal(t, 2, exchanges[0].OppositeMajorFragmentID())
	assert.Len(t, exchanges[0].Slots(), 3)
	assert.Equal(t, 5, exchanges[1].OppositeMajorFragmentID())
	assert.Len(t, exchanges[1].Slots(), 1)
	assert.Equal(t, int64(2), incoming.Readiness().Remaining())

	require.NoError(t, incoming.Cancel(nil))
}

func TestStorageConfig_DefaultsCompressionByFormat(t *testing.T) {
	archive := testConfig().Archive

	sc := storageConfig(archive)
	assert.Equal(t, batch.FormatAvro, sc.Format)
	assert.Equal(t, "gzip", sc.Compression)
	assert.Equal(t, "archive-bucket", sc.S3.Bucket)

	archive.Format = "parquet"
	archive.Compression = "zstd"
	sc = storageConfig(archive)
	assert.Equal(t, batch.FormatParquet, sc.Format)
	assert.Equal(t, "zstd", sc.Compression)
}

func TestArchiveRouter(t *testing.T) {
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	id := batch.SlotID{Exchange: 2, Slot: 1}

	tests := []struct {
		name   string
		mutate func(*dto.ArchiveConfig)
		want   string
	}{
		{"s3", func(*dto.ArchiveConfig) {}, "s3://archive-bucket/exchanges/exchange=2/dt=2026-03-14/slot=1/"},
		{
			name: "gcs",
			mutate: func(a *dto.ArchiveConfig) {
				a.Backend = storage.BackendGCS
				a.GCS.Bucket = "gcs-bucket"
			},
			want: "gs://gcs-bucket/exchanges/exchange=2/dt=2026-03-14/slot=1/",
		},
		{
			name: "file",
			mutate: func(a *dto.ArchiveConfig) {
				a.Backend = storage.BackendFile
				a.BasePath = ""
			},
			want: "file:///exchange=2/dt=2026-03-14/slot=1/",
		},
		{
			name:   "disabled",
			mutate: func(a *dto.ArchiveConfig) { a.Enabled = false },
			want:   "file:///exchanges/exchange=2/dt=2026-03-14/slot=1/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := testConfig().Archive
			tt.mutate(&archive)
			if got := archiveRouter(archive).Route(id, day); got != tt.want {
				t.Errorf("Route() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDrainConfig(t *testing.T) {
	dc := drainConfig(testConfig())

	assert.Equal(t, 8, dc.WorkerPoolSize)
	assert.Equal(t, int64(2*1024*1024), dc.MaxSegmentBytes)
	assert.Equal(t, 500, dc.MaxSegmentRecords)
	assert.Equal(t, 250*time.Millisecond, dc.AgeCheckInterval)
	assert.Equal(t, 50*time.Millisecond, dc.RetryBackoff)
}

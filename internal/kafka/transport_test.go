package kafka

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/internal/fragment"
	slotimpl "github.com/jittakal/kafexchange/internal/slot"
	"github.com/jittakal/kafexchange/pkg/batch"
	"github.com/jittakal/kafexchange/pkg/consumer"
	"github.com/jittakal/kafexchange/pkg/slot"
)

type fakeGroup struct {
	mu      sync.Mutex
	paused  map[string]bool
	pauses  int
	resumes int
	closed  bool
	errs    chan error
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{paused: make(map[string]bool), errs: make(chan error)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return sarama.ErrClosedConsumerGroup
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error {
	return g.errs
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGroup) set(partitions map[string][]int32, paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for topic, ps := range partitions {
		for _, p := range ps {
			g.paused[topicPartition(topic, p)] = paused
		}
	}
	if paused {
		g.pauses++
	} else {
		g.resumes++
	}
}

func (g *fakeGroup) Pause(partitions map[string][]int32) {
	g.set(partitions, true)
}

func (g *fakeGroup) Resume(partitions map[string][]int32) {
	g.set(partitions, false)
}

func (g *fakeGroup) PauseAll() {}

func (g *fakeGroup) ResumeAll() {}

func (g *fakeGroup) isPaused(topic string, partition int32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused[topicPartition(topic, partition)]
}

func topicPartition(topic string, partition int32) string {
	return topic + "/" + TopicName("", int(partition))
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{"exchange.1": {0, 1}}
}

func (s *fakeSession) MemberID() string {
	return "member-1"
}

func (s *fakeSession) GenerationID() int32 {
	return 1
}

func (s *fakeSession) MarkOffset(string, int32, int64, string) {}

func (s *fakeSession) Commit() {}

func (s *fakeSession) ResetOffset(string, int32, int64, string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) Context() context.Context {
	return s.ctx
}

type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string {
	return c.topic
}

func (c *fakeClaim) Partition() int32 {
	return c.partition
}

func (c *fakeClaim) InitialOffset() int64 {
	return sarama.OffsetOldest
}

func (c *fakeClaim) HighWaterMarkOffset() int64 {
	return 0
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.messages
}

type recordingSink struct {
	mu      sync.Mutex
	batches []*batch.RawBatch
	err     error
	ready   bool
}

func (s *recordingSink) BatchArrived(b *batch.RawBatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.batches = append(s.batches, b)
	return s.ready, nil
}

type recordingFailures struct {
	mu   sync.Mutex
	errs []error
}

func (f *recordingFailures) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

type recordingDLQ struct {
	mu      sync.Mutex
	letters []consumer.DeadLetter
}

func (d *recordingDLQ) Publish(_ context.Context, letter consumer.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, letter)
	return nil
}

func (d *recordingDLQ) Close() error {
	return nil
}

type transportHarness struct {
	transport *Transport
	group     *fakeGroup
	sink      *recordingSink
	failures  *recordingFailures
	dlq       *recordingDLQ
	codec     *Codec
}

func newTransportHarness(t *testing.T) *transportHarness {
	t.Helper()
	h := &transportHarness{
		group: newFakeGroup(),
		sink:     &recordingSink{},
		failures: &recordingFailures{},
		dlq:      &recordingDLQ{},
		codec:    NewCodec(""),
	}
	cfg := TransportConfig{
		Brokers:     []string{"localhost:9092"},
		GroupID:     "receivers",
		TopicPrefix: "exchange.",
		Exchanges:   []int{1},
	}
	h.transport = newTransport(h.group, cfg, h.codec, h.sink, h.failures, h.dlq, zaptest.NewLogger(t), nil)
	return h
}

func (h *transportHarness) message(t *testing.T, partition int32, offset int64, b *batch.RawBatch) *sarama.ConsumerMessage {
	t.Helper()
	value, err := h.codec.Encode(b)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "exchange.1", Partition: partition, Offset: offset, Value: value}
}

// consume runs ConsumeClaim over msgs until the claim's channel is drained.
func (h *transportHarness) consume(t *testing.T, partition int32, msgs ...*sarama.ConsumerMessage) *fakeSession {
	t.Helper()
	claim := &fakeClaim{topic: "exchange.1", partition: partition, messages: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, m := range msgs {
		claim.messages <- m
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	handler := &groupHandler{transport: h.transport}
	require.NoError(t, handler.Setup(session))
	require.NoError(t, handler.ConsumeClaim(session, claim))
	require.NoError(t, handler.Cleanup(session))
	return session
}

func TestTransport_DeliversBatchesInOrder(t *testing.T) {
	h := newTransportHarness(t)
	h.sink.ready = true

	session := h.consume(t, 1,
		h.message(t, 1, 10, sampleBatch(1, 1, 0)),
		h.message(t, 1, 11, sampleBatch(1, 1, 1)),
	)

	require.Len(t, h.sink.batches, 2)
	assert.Equal(t, int64(0), h.sink.batches[0].Header.Sequence)
	assert.Equal(t, int64(1), h.sink.batches[1].Header.Sequence)
	assert.Equal(t, []int64{10, 11}, session.marked)
	assert.Empty(t, h.dlq.letters)

	conn := h.sink.batches[0].Connection
	require.NotNil(t, conn)
	assert.Equal(t, "exchange.1/1", conn.ID())
	assert.Same(t, conn, h.sink.batches[1].Connection)
	assert.False(t, h.sink.batches[0].ArrivedAt.IsZero())
}

func TestTransport_UndecodableGoesToDLQ(t *testing.T) {
	h := newTransportHarness(t)

	bad := &sarama.ConsumerMessage{Topic: "exchange.1", Partition: 0, Offset: 3, Value: []byte("not an envelope")}
	session := h.consume(t, 0, bad)

	assert.Empty(t, h.sink.batches)
	assert.Equal(t, []int64{3}, session.marked)
	require.Len(t, h.dlq.letters, 1)
	assert.Equal(t, int64(3), h.dlq.letters[0].Offset)
	assert.Contains(t, h.dlq.letters[0].Reason, ReasonUndecodable)

	require.Len(t, h.failures.errs, 1)
	assert.True(t, stderrors.Is(h.failures.errs[0], apperrors.ErrProtocolViolation))
}

func TestTransport_ForeignPartitionIsViolation(t *testing.T) {
	h := newTransportHarness(t)

	// sender 2's batch on partition 0
	session := h.consume(t, 0, h.message(t, 0, 5, sampleBatch(1, 2, 0)))

	assert.Empty(t, h.sink.batches)
	assert.Equal(t, []int64{5}, session.marked)
	require.Len(t, h.dlq.letters, 1)
	assert.Contains(t, h.dlq.letters[0].Reason, ReasonProtocolViolation)

	require.Len(t, h.failures.errs, 1, "fragment should be failed")
	var verr *apperrors.ProtocolViolationError
	require.True(t, stderrors.As(h.failures.errs[0], &verr))
	assert.Equal(t, 1, verr.Exchange)
	assert.Equal(t, 0, verr.Sender)
}

func TestTransport_ForeignPartitionFailsRealFragment(t *testing.T) {
	logger := zaptest.NewLogger(t)
	fctx := fragment.NewContext("query-1", 0, logger)
	endpoints := make([]batch.Endpoint, 3)
	for i := range endpoints {
		endpoints[i] = batch.Endpoint{Address: TopicName("exchange.", 1) + "/" + strconv.Itoa(i), MinorFragmentID: i}
	}
	incoming, err := fragment.NewIncomingBuffers(fctx, fragment.Config{
		Exchanges: []fragment.ExchangeConfig{{
			Receiver: batch.Receiver{OppositeMajorFragmentID: 1, ProvidingEndpoints: endpoints},
		}},
		DefaultImpl: slotimpl.ImplUnlimited,
		Settings:    slot.Settings{SoftLimitPerSender: 10, Logger: logger},
		Logger:      logger,
	})
	require.NoError(t, err)

	h := newTransportHarness(t)
	h.transport = newTransport(h.group, h.transport.config, h.codec, incoming, fctx, h.dlq, logger, nil)

	// sender 2's batch on partition 0
	h.consume(t, 0, h.message(t, 0, 9, sampleBatch(1, 2, 0)))

	require.Len(t, h.dlq.letters, 1)
	assert.True(t, fctx.Failed(), "fragment should be failed")
	assert.True(t, stderrors.Is(fctx.Err(), apperrors.ErrProtocolViolation), "Err() = %v", fctx.Err())
}

func TestTransport_SinkRejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{
			name:       "protocol violation",
			err:        &apperrors.ProtocolViolationError{Exchange: 1, Sender: 0, Reason: "batch after terminal batch"},
			wantReason: ReasonProtocolViolation,
		},
		{
			name:       "unknown exchange",
			err:        apperrors.ErrUnknownExchange,
			wantReason: ReasonUnknownExchange,
		},
		{
			name: "slot closed",
			err:  apperrors.ErrSlotClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTransportHarness(t)
			h.sink.err = tt.err

			session := h.consume(t, 0, h.message(t, 0, 1, sampleBatch(1, 0, 0)))
			assert.Equal(t, []int64{1}, session.marked)

			if tt.wantReason == "" {
				assert.Empty(t, h.dlq.letters)
				return
			}
			require.Len(t, h.dlq.letters, 1)
			assert.Contains(t, h.dlq.letters[0].Reason, tt.wantReason)
		})
	}
}

func TestPartitionConn_AutoReadAndClose(t *testing.T) {
	h := newTransportHarness(t)
	conn := h.transport.connection("exchange.1", 2)

	conn.SetAutoRead(false)
	assert.True(t, h.group.isPaused("exchange.1", 2))

	conn.SetAutoRead(true)
	assert.False(t, h.group.isPaused("exchange.1", 2))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, h.group.isPaused("exchange.1", 2))

	conn.SetAutoRead(true)
	assert.True(t, h.group.isPaused("exchange.1", 2), "a closed connection must stay paused")
	assert.Equal(t, 2, h.group.pauses, "second Close must not pause again")

	assert.Same(t, conn, h.transport.connection("exchange.1", 2))
}

func TestTransport_ReclaimedClosedPartitionStaysPaused(t *testing.T) {
	h := newTransportHarness(t)
	require.NoError(t, h.transport.connection("exchange.1", 0).Close())

	h.group.Resume(map[string][]int32{"exchange.1": {0}})
	h.consume(t, 0)

	assert.True(t, h.group.isPaused("exchange.1", 0))
}

func TestTransport_RunAndClose(t *testing.T) {
	h := newTransportHarness(t)
	assert.Equal(t, []string{"exchange.1"}, h.transport.Topics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.transport.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.NoError(t, h.transport.Close())
	require.NoError(t, h.transport.Close())

	err := h.transport.Run(context.Background())
	assert.True(t, stderrors.Is(err, apperrors.ErrTransportClosed), "Run() after Close error = %v", err)
}

func TestTransportConfig_Validate(t *testing.T) {
	valid := TransportConfig{Brokers: []string{"b:9092"}, GroupID: "g", Exchanges: []int{1}}

	tests := []struct {
		name    string
		mutate  func(c *TransportConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*TransportConfig) {}},
		{name: "no brokers", mutate: func(c *TransportConfig) { c.Brokers = nil }, wantErr: true},
		{name: "no group", mutate: func(c *TransportConfig) { c.GroupID = "" }, wantErr: true},
		{name: "no exchanges", mutate: func(c *TransportConfig) { c.Exchanges = nil }, wantErr: true},
		{name: "bad security", mutate: func(c *TransportConfig) { c.Security.Protocol = "BOGUS" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleflow/internal/broker"
	"sampleflow/internal/config"
	"sampleflow/internal/deadletter"
	"sampleflow/internal/ledger"
	"sampleflow/internal/logger"
	"sampleflow/internal/schema"
	"sampleflow/internal/store"
	"sampleflow/internal/transform"
	"sampleflow/pkg/models"
)

type fakeWriter struct {
	outcomes []store.Outcome
	records  []models.SampleRecord
}

func (w *fakeWriter) Write(_ context.Context, rec models.SampleRecord) store.Outcome {
	w.records = append(w.records, rec)
	if len(w.outcomes) == 0 {
		return store.Success()
	}
	out := w.outcomes[0]
	if len(w.outcomes) > 1 {
		w.outcomes = w.outcomes[1:]
	}
	return out
}

type fakeResolver struct {
	id    string
	err   error
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, _, _ string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.id, nil
}

type published struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	messages []published
	fail     bool
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.messages = append(p.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fakeSink struct {
	records []models.DeadLetterRecord
	fail    bool
}

func (s *fakeSink) Append(_ context.Context, rec models.DeadLetterRecord) error {
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	for _, existing := range s.records {
		if existing.ID == rec.ID {
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) Close(_ context.Context) error { return nil }

type testHarness struct {
	pipeline *Pipeline
	writer   *fakeWriter
	resolver *fakeResolver
	producer *fakeProducer
	sink     *fakeSink
	ledger   *ledger.Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	writer := &fakeWriter{}
	resolver := &fakeResolver{id: "var-42"}
	producer := &fakeProducer{}
	sink := &fakeSink{}

	ledgerSvc := ledger.NewService(ledger.NewMemoryLedger(), config.LedgerConfig{
		LeaseTTL:         time.Minute,
		Retention:        time.Hour,
		InFlightRecheck:  time.Millisecond,
		InFlightAttempts: 2,
	}, logger.NopLogger())
	t.Cleanup(ledgerSvc.Close)

	scheduler := NewScheduler(producer, "lab_samples_retry", config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
		JitterFraction:  0,
	}, logger.NopLogger())

	p := New(
		schema.NewValidator(),
		transform.NewNormalizer(),
		resolver,
		ledgerSvc,
		writer,
		deadletter.NewRouter(sink, logger.NopLogger()),
		scheduler,
		logger.NopLogger(),
	)

	return &testHarness{
		pipeline: p,
		writer:   writer,
		resolver: resolver,
		producer: producer,
		sink:     sink,
		ledger:   ledgerSvc,
	}
}

func delivery(t *testing.T, env models.MessageEnvelope, offset int64) broker.Delivery {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return broker.Delivery{
		Topic:     "lab_samples",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(env.SampleID),
		Value:     body,
	}
}

func validEnvelope(sampleID string) models.MessageEnvelope {
	return models.MessageEnvelope{
		ID:        "msg-" + sampleID,
		SampleID:  sampleID,
		Source:    "lab-a",
		Timestamp: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Payload: map[string]interface{}{
			"metric": "glucose",
			"value":  4.2,
		},
	}
}

func (h *testHarness) requeued(t *testing.T, index int, offset int64) broker.Delivery {
	t.Helper()
	require.Greater(t, len(h.producer.messages), index)
	msg := h.producer.messages[index]
	return broker.Delivery{
		Topic:     msg.topic,
		Partition: 0,
		Offset:    offset,
		Key:       msg.key,
		Value:     msg.value,
	}
}

func TestPipeline_Handle_SuccessWritesOnceAndAcks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.pipeline.Handle(ctx, delivery(t, validEnvelope("s-1"), 1))
	require.NoError(t, err)

	require.Len(t, h.writer.records, 1)
	assert.Equal(t, "s-1", h.writer.records[0].SampleID)
	assert.Equal(t, "var-42", h.writer.records[0].VariableID)
	assert.Empty(t, h.producer.messages)
	assert.Empty(t, h.sink.records)
}

func TestPipeline_Handle_RedeliveryDoesNotWriteTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.pipeline.Handle(ctx, delivery(t, validEnvelope("s-1"), 1)))
	require.NoError(t, h.pipeline.Handle(ctx, delivery(t, validEnvelope("s-1"), 1)))

	assert.Len(t, h.writer.records, 1)
}

func TestPipeline_Handle_MalformedJSONDeadLettered(t *testing.T) {
	h := newHarness(t)

	err := h.pipeline.Handle(context.Background(), broker.Delivery{
		Topic:     "lab_samples",
		Partition: 1,
		Offset:    7,
		Value:     []byte(`{"sample_id": "s-1"`),
	})
	require.NoError(t, err)

	require.Len(t, h.sink.records, 1)
	assert.Equal(t, "validate", h.sink.records[0].Stage)
	assert.Equal(t, "lab_samples-1-7", h.sink.records[0].ID)
	assert.Empty(t, h.writer.records)
}

func TestPipeline_Handle_TransformFailureDeadLettered(t *testing.T) {
	h := newHarness(t)

	env := validEnvelope("s-2")
	env.Payload["value"] = -1.0

	err := h.pipeline.Handle(context.Background(), delivery(t, env, 2))
	require.NoError(t, err)

	require.Len(t, h.sink.records, 1)
	rec := h.sink.records[0]
	assert.Equal(t, "transform", rec.Stage)
	assert.Equal(t, "s-2", rec.SampleID)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.Reason, "range")
	assert.JSONEq(t, string(delivery(t, env, 2).Value), string(rec.Payload))
	assert.Empty(t, h.writer.records)
	assert.Empty(t, h.producer.messages)
}

func TestPipeline_Handle_RetryableWriteRequeues(t *testing.T) {
	h := newHarness(t)
	h.writer.outcomes = []store.Outcome{store.Retryable("store returned 503", nil)}

	err := h.pipeline.Handle(context.Background(), delivery(t, validEnvelope("s-3"), 3))
	require.NoError(t, err)

	require.Len(t, h.producer.messages, 1)
	msg := h.producer.messages[0]
	assert.Equal(t, "lab_samples_retry", msg.topic)
	assert.Equal(t, []byte("s-3"), msg.key)

	var env models.MessageEnvelope
	require.NoError(t, json.Unmarshal(msg.value, &env))
	require.NotNil(t, env.Attempt)
	assert.Equal(t, 1, env.Attempt.Count)
	assert.Contains(t, env.Attempt.LastError, "503")
	assert.False(t, env.Attempt.NotBefore.IsZero())
	assert.False(t, env.Attempt.FirstSeen.IsZero())
	assert.Empty(t, h.sink.records)
}

func TestPipeline_Handle_ExhaustedRetriesDeadLettered(t *testing.T) {
	h := newHarness(t)
	h.writer.outcomes = []store.Outcome{store.Retryable("store timeout", nil)}

	ctx := context.Background()
	require.NoError(t, h.pipeline.Handle(ctx, delivery(t, validEnvelope("s-4"), 4)))
	require.NoError(t, h.pipeline.Handle(ctx, h.requeued(t, 0, 100)))
	require.NoError(t, h.pipeline.Handle(ctx, h.requeued(t, 1, 101)))

	// Three write attempts, two requeues, then the dead letter.
	assert.Len(t, h.writer.records, 3)
	assert.Len(t, h.producer.messages, 2)
	require.Len(t, h.sink.records, 1)

	rec := h.sink.records[0]
	assert.Equal(t, "write", rec.Stage)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.Reason, "store timeout")
}

func TestPipeline_Handle_RetryAfterHintExtendsBackoff(t *testing.T) {
	h := newHarness(t)
	out := store.Retryable("store rate limited", nil)
	out.RetryAfter = 150 * time.Millisecond
	h.writer.outcomes = []store.Outcome{out}

	before := time.Now()
	err := h.pipeline.Handle(context.Background(), delivery(t, validEnvelope("s-5"), 5))
	require.NoError(t, err)

	var env models.MessageEnvelope
	require.NoError(t, json.Unmarshal(h.producer.messages[0].value, &env))
	require.NotNil(t, env.Attempt)
	assert.True(t, env.Attempt.NotBefore.Sub(before) >= 150*time.Millisecond)
}

func TestPipeline_Handle_PermanentWriteDeadLettered(t *testing.T) {
	h := newHarness(t)
	h.writer.outcomes = []store.Outcome{store.Permanent("store rejected with 422", nil)}

	err := h.pipeline.Handle(context.Background(), delivery(t, validEnvelope("s-6"), 6))
	require.NoError(t, err)

	require.Len(t, h.sink.records, 1)
	assert.Equal(t, "write", h.sink.records[0].Stage)
	assert.Empty(t, h.producer.messages)
}

func TestPipeline_Handle_ReleasedClaimAllowsRetryWrite(t *testing.T) {
	h := newHarness(t)
	h.writer.outcomes = []store.Outcome{store.Retryable("store timeout", nil), store.Success()}

	ctx := context.Background()
	require.NoError(t, h.pipeline.Handle(ctx, delivery(t, validEnvelope("s-7"), 7)))
	require.NoError(t, h.pipeline.Handle(ctx, h.requeued(t, 0, 102)))

	// The retry got a fresh claim and the write landed.
	assert.Len(t, h.writer.records, 2)
	assert.Empty(t, h.sink.records)
}

func TestPipeline_Handle_ResolverPermanentFailureDeadLettered(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = schemaPermanentErr()

	err := h.pipeline.Handle(context.Background(), delivery(t, validEnvelope("s-8"), 8))
	require.NoError(t, err)

	require.Len(t, h.sink.records, 1)
	assert.Equal(t, "resolve", h.sink.records[0].Stage)
	assert.Empty(t, h.writer.records)
}

func TestPipeline_Handle_ResolverSkippedWhenVariableIDPresent(t *testing.T) {
	h := newHarness(t)

	env := validEnvelope("s-9")
	env.Payload["variable_id"] = "var-77"
	delete(env.Payload, "metric")

	err := h.pipeline.Handle(context.Background(), delivery(t, env, 9))
	require.NoError(t, err)

	assert.Equal(t, 0, h.resolver.calls)
	require.Len(t, h.writer.records, 1)
	assert.Equal(t, "var-77", h.writer.records[0].VariableID)
}

func TestPipeline_Handle_DeadLetterSinkFailureLeavesUncommitted(t *testing.T) {
	h := newHarness(t)
	h.sink.fail = true

	env := validEnvelope("s-10")
	env.Payload["value"] = -1.0

	err := h.pipeline.Handle(context.Background(), delivery(t, env, 10))
	assert.Error(t, err)
}

func TestPipeline_Handle_RequeuePublishFailureLeavesUncommitted(t *testing.T) {
	h := newHarness(t)
	h.writer.outcomes = []store.Outcome{store.Retryable("store timeout", nil)}
	h.producer.fail = true

	err := h.pipeline.Handle(context.Background(), delivery(t, validEnvelope("s-11"), 11))
	assert.Error(t, err)
}

func schemaPermanentErr() error {
	_, err := schema.DecodeEnvelope([]byte(`{`))
	return err
}

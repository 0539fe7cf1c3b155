package deadletter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleflow/internal/broker"
	"sampleflow/internal/logger"
	"sampleflow/pkg/models"
)

type fakeSink struct {
	records  []models.DeadLetterRecord
	failures int
}

func (s *fakeSink) Append(_ context.Context, rec models.DeadLetterRecord) error {
	if s.failures > 0 {
		s.failures--
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

func testDelivery() broker.Delivery {
	return broker.Delivery{
		Topic:     "lab_samples",
		Partition: 2,
		Offset:    918,
		Value:     []byte(`{"sample_id":"s-1","payload":{"value":-1}}`),
	}
}

func TestRouter_Route_WritesRecord(t *testing.T) {
	sink := &fakeSink{}
	router := NewRouter(sink, logger.NopLogger())

	firstSeen := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	err := router.Route(context.Background(), testDelivery(), "s-1", "transform", "TRANSFORM_ERROR", "value -1 outside accepted range", 1, firstSeen)
	require.NoError(t, err)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "lab_samples-2-918", rec.ID)
	assert.Equal(t, "s-1", rec.SampleID)
	assert.Equal(t, "transform", rec.Stage)
	assert.Equal(t, "value -1 outside accepted range", rec.Reason)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, firstSeen, rec.FirstSeen)
	assert.Equal(t, testDelivery().Value, rec.Payload)
	assert.False(t, rec.DeadLetteredAt.IsZero())
}

func TestRouter_Route_RetriesTransientSinkFailure(t *testing.T) {
	sink := &fakeSink{failures: 2}
	router := NewRouter(sink, logger.NopLogger())

	err := router.Route(context.Background(), testDelivery(), "s-1", "write", "STORE_UNAVAILABLE", "store timeout", 3, time.Now())
	require.NoError(t, err)
	assert.Len(t, sink.records, 1)
}

func TestRouter_Route_SinkDownReturnsError(t *testing.T) {
	sink := &fakeSink{failures: 100}
	router := NewRouter(sink, logger.NopLogger())

	err := router.Route(context.Background(), testDelivery(), "s-1", "write", "STORE_UNAVAILABLE", "store timeout", 3, time.Now())
	require.Error(t, err)
	assert.Empty(t, sink.records)
}

func TestRouter_Route_RedeliveryAbsorbedByDeterministicID(t *testing.T) {
	sink := &fakeSink{}
	router := NewRouter(sink, logger.NopLogger())

	for i := 0; i < 2; i++ {
		err := router.Route(context.Background(), testDelivery(), "s-1", "validate", "VALIDATION_ERROR", "bad payload", 1, time.Now())
		require.NoError(t, err)
	}

	assert.Len(t, sink.records, 1)
}

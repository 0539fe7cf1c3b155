package deadletter

import (
	"context"
	"fmt"
	"time"

	"sampleflow/internal/broker"
	"sampleflow/internal/logger"
	"sampleflow/pkg/metrics"
	"sampleflow/pkg/models"
	"sampleflow/pkg/retry"
)

// Router turns a failed delivery into a durable DeadLetterRecord. Route only
// succeeds if the sink write did; the caller must not commit the original
// offset otherwise, which makes dead-lettering itself at-least-once.
type Router struct {
	sink   Sink
	logger logger.Logger
	policy retry.Policy
}

func NewRouter(sink Sink, log logger.Logger) *Router {
	return &Router{
		sink:   sink,
		logger: log,
		policy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// Route writes the dead-letter record, retrying transient sink failures
// in-process before giving up and leaving the delivery for redelivery.
// code is the coarse failure class used for metrics; reason is the full
// operator-facing message stored on the record.
func (r *Router) Route(ctx context.Context, d broker.Delivery, sampleID, stage, code, reason string, attempts int, firstSeen time.Time) error {
	rec := models.DeadLetterRecord{
		// Deterministic id: a redelivered message maps to the same record,
		// so the sink's idempotent append absorbs the replay.
		ID:             fmt.Sprintf("%s-%d-%d", d.Topic, d.Partition, d.Offset),
		SampleID:       sampleID,
		Topic:          d.Topic,
		Partition:      d.Partition,
		Offset:         d.Offset,
		Payload:        d.Value,
		Stage:          stage,
		Reason:         reason,
		Attempts:       attempts,
		FirstSeen:      firstSeen,
		DeadLetteredAt: time.Now().UTC(),
	}

	err := retry.Retry(ctx, r.policy, func() error {
		return r.sink.Append(ctx, rec)
	})
	if err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to write dead letter, delivery stays uncommitted",
			"error", err,
			"sample_id", sampleID,
			"stage", stage,
		)
		return err
	}

	metrics.DeadLettersTotal.WithLabelValues(stage, code).Inc()
	r.logger.InfowCtx(ctx, "Message dead-lettered",
		"sample_id", sampleID,
		"stage", stage,
		"reason", reason,
		"attempts", attempts,
	)
	return nil
}

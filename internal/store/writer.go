package store

import (
	"context"
	"time"

	"sampleflow/pkg/models"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome classifies one write attempt. RetryAfter carries the store's own
// backpressure hint (Retry-After on a 429) when it gave one.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func Retryable(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason, Err: err}
}

func Permanent(reason string, err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason, Err: err}
}

// Writer performs the idempotent upsert against the target store. Repeated
// calls with the same record must be safe; the upsert is keyed by sample_id.
type Writer interface {
	Write(ctx context.Context, rec models.SampleRecord) Outcome
}

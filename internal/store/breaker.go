package store

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"sampleflow/internal/config"
	"sampleflow/pkg/circuitbreaker"
	"sampleflow/pkg/models"
)

// BreakerWriter wraps a Writer with a circuit breaker. An open breaker turns
// into a retryable outcome so the message requeues instead of hammering a
// store that is already down.
type BreakerWriter struct {
	writer Writer
	cb     *circuitbreaker.Wrapper
}

func NewBreakerWriter(writer Writer, cfg config.CircuitBreakerConfig) *BreakerWriter {
	if !cfg.Enabled {
		return &BreakerWriter{writer: writer}
	}

	cbConfig := circuitbreaker.DefaultConfig("clever-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &BreakerWriter{
		writer: writer,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (w *BreakerWriter) Write(ctx context.Context, rec models.SampleRecord) Outcome {
	if w.cb == nil {
		return w.writer.Write(ctx, rec)
	}

	result, err := w.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		outcome := w.writer.Write(ctx, rec)
		if outcome.Kind == OutcomeRetryable {
			// Feed transient failures to the breaker; permanent rejections
			// are the store working as intended and must not trip it.
			err := outcome.Err
			if err == nil {
				err = errors.New(outcome.Reason)
			}
			return outcome, err
		}
		return outcome, nil
	})

	if err != nil {
		if outcome, ok := result.(Outcome); ok {
			w.cb.RecordRequest(false)
			return outcome
		}
		w.cb.RecordRequest(false)
		return Retryable("store circuit breaker open", err)
	}

	w.cb.RecordRequest(true)
	return result.(Outcome)
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"sampleflow/internal/config"
	"sampleflow/pkg/circuitbreaker"
)

// CircuitBreakerLedger shields workers from a dying ledger backend. A tripped
// breaker fails claims fast, which surfaces as a retryable failure upstream
// instead of every worker blocking on Redis timeouts.
type CircuitBreakerLedger struct {
	ledger Ledger
	cb     *circuitbreaker.Wrapper
}

func NewCircuitBreakerLedger(ledger Ledger, cfg config.CircuitBreakerConfig) *CircuitBreakerLedger {
	if !cfg.Enabled {
		return &CircuitBreakerLedger{ledger: ledger}
	}

	cbConfig := circuitbreaker.DefaultConfig("dedup-ledger")
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

	return &CircuitBreakerLedger{
		ledger: ledger,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (l *CircuitBreakerLedger) TryClaim(ctx context.Context, sampleID, owner string, lease time.Duration) (ClaimStatus, error) {
	if l.cb == nil {
		return l.ledger.TryClaim(ctx, sampleID, owner, lease)
	}

	result, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return l.ledger.TryClaim(ctx, sampleID, owner, lease)
	})

	l.cb.RecordRequest(err == nil)

	if err != nil {
		if l.cb.IsOpen() {
			return StatusInFlight, fmt.Errorf("circuit breaker is open for dedup-ledger: %w", err)
		}
		return StatusInFlight, err
	}

	status, ok := result.(ClaimStatus)
	if !ok {
		return StatusInFlight, fmt.Errorf("ledger returned invalid result type")
	}
	return status, nil
}

func (l *CircuitBreakerLedger) Commit(ctx context.Context, sampleID string, retention time.Duration) error {
	if l.cb == nil {
		return l.ledger.Commit(ctx, sampleID, retention)
	}

	_, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, l.ledger.Commit(ctx, sampleID, retention)
	})
	l.cb.RecordRequest(err == nil)
	return err
}

func (l *CircuitBreakerLedger) Release(ctx context.Context, sampleID, owner string) error {
	if l.cb == nil {
		return l.ledger.Release(ctx, sampleID, owner)
	}

	_, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, l.ledger.Release(ctx, sampleID, owner)
	})
	l.cb.RecordRequest(err == nil)
	return err
}

func (l *CircuitBreakerLedger) Size(ctx context.Context) (int, error) {
	if l.cb == nil {
		return l.ledger.Size(ctx)
	}

	result, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return l.ledger.Size(ctx)
	})
	l.cb.RecordRequest(err == nil)
	if err != nil {
		return 0, err
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("ledger returned invalid result type")
	}
	return size, nil
}

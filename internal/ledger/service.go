package ledger

import (
	"context"
	"time"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/errors"
	"sampleflow/pkg/metrics"
)

// Service layers metrics, logging and the in-flight recheck loop over a
// Ledger implementation.
type Service struct {
	ledger Ledger
	cfg    config.LedgerConfig
	logger logger.Logger
	cancel context.CancelFunc
}

func NewService(l Ledger, cfg config.LedgerConfig, log logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		ledger: l,
		cfg:    cfg,
		logger: log,
		cancel: cancel,
	}

	go s.updateSizeMetric(ctx)

	return s
}

// AwaitClaim claims the identity, backing off and rechecking while another
// worker holds the lease. If the lease holder neither commits nor releases
// within the recheck budget, the claim gives up with a retryable conflict so
// the message requeues instead of pinning the worker.
func (s *Service) AwaitClaim(ctx context.Context, sampleID, owner string) (ClaimStatus, error) {
	attempts := s.cfg.InFlightAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; ; i++ {
		status, err := s.ledger.TryClaim(ctx, sampleID, owner, s.cfg.LeaseTTL)
		if err != nil {
			metrics.LedgerOpsTotal.WithLabelValues("claim", "error").Inc()
			return status, errors.Wrap(err, errors.ErrLedgerConflict.AsRetryable())
		}

		metrics.LedgerOpsTotal.WithLabelValues("claim", status.String()).Inc()

		if status != StatusInFlight {
			if status == StatusAlreadyApplied {
				metrics.DedupHitsTotal.Inc()
			}
			return status, nil
		}

		if i+1 >= attempts {
			s.logger.WarnwCtx(ctx, "Identity still in flight elsewhere, requeueing",
				"sample_id", sampleID,
				"rechecks", attempts,
			)
			return StatusInFlight, errors.ErrLedgerConflict.AsRetryable()
		}

		select {
		case <-ctx.Done():
			return StatusInFlight, ctx.Err()
		case <-time.After(s.cfg.InFlightRecheck):
		}
	}
}

func (s *Service) Commit(ctx context.Context, sampleID string) error {
	err := s.ledger.Commit(ctx, sampleID, s.cfg.Retention)
	if err != nil {
		metrics.LedgerOpsTotal.WithLabelValues("commit", "error").Inc()
		return err
	}
	metrics.LedgerOpsTotal.WithLabelValues("commit", "ok").Inc()
	return nil
}

func (s *Service) Release(ctx context.Context, sampleID, owner string) error {
	err := s.ledger.Release(ctx, sampleID, owner)
	if err != nil {
		metrics.LedgerOpsTotal.WithLabelValues("release", "error").Inc()
		return err
	}
	metrics.LedgerOpsTotal.WithLabelValues("release", "ok").Inc()
	return nil
}

func (s *Service) Close() {
	s.cancel()
}

func (s *Service) updateSizeMetric(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			size, err := s.ledger.Size(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debugw("Failed to get ledger size for metrics",
					"error", err,
				)
				continue
			}
			metrics.SetLedgerEntries(size)
		case <-ctx.Done():
			return
		}
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"sampleflow/internal/broker"
	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/metrics"
	"sampleflow/pkg/models"
	"sampleflow/pkg/retry"
)

// Scheduler realizes retries as requeues: the failed envelope goes back onto
// the retry topic with an incremented attempt count and a not-before
// timestamp, so a slow record costs a publish, not a parked worker.
type Scheduler struct {
	producer broker.Producer
	topic    string
	cfg      config.RetryConfig
	logger   logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduler(producer broker.Producer, topic string, cfg config.RetryConfig, log logger.Logger) *Scheduler {
	return &Scheduler{
		producer: producer,
		topic:    topic,
		cfg:      cfg,
		logger:   log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Exhausted reports whether the attempt that just failed was the last one in
// the budget. AttemptCount holds completed attempts, so the current one adds
// one on top.
func (s *Scheduler) Exhausted(env models.MessageEnvelope) bool {
	return env.AttemptCount()+1 >= s.cfg.MaxAttempts
}

// Delay computes the backoff before the given attempt (1-based), jittered so
// bursts of failures spread out instead of returning in lockstep.
func (s *Scheduler) Delay(attempt int) time.Duration {
	base := retry.BackoffDelay(attempt, s.cfg.InitialInterval, s.cfg.Multiplier, s.cfg.MaxInterval)

	s.mu.Lock()
	defer s.mu.Unlock()
	return retry.Jitter(base, s.cfg.JitterFraction, s.rng)
}

// Requeue publishes the envelope to the retry topic with updated attempt
// state. hint, when positive, is the store's own backpressure suggestion and
// wins over the computed backoff if longer.
func (s *Scheduler) Requeue(ctx context.Context, env models.MessageEnvelope, stage string, cause error, hint time.Duration) error {
	now := time.Now().UTC()

	attempt := env.Attempt
	if attempt == nil {
		attempt = &models.AttemptInfo{FirstSeen: now}
	}
	if attempt.FirstSeen.IsZero() {
		attempt.FirstSeen = now
	}

	attempt.Count++
	if cause != nil {
		attempt.LastError = cause.Error()
	}

	delay := s.Delay(attempt.Count)
	if hint > delay {
		delay = hint
	}
	attempt.NotBefore = now.Add(delay)
	env.Attempt = attempt

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal retry envelope: %w", err)
	}

	if err := s.producer.Publish(ctx, s.topic, []byte(env.SampleID), body); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}

	metrics.RetriesScheduledTotal.WithLabelValues(stage).Inc()
	s.logger.WarnwCtx(ctx, "Message requeued for retry",
		"sample_id", env.SampleID,
		"stage", stage,
		"attempt", attempt.Count,
		"max_attempts", s.cfg.MaxAttempts,
		"delay", delay,
		"error", attempt.LastError,
	)

	return nil
}

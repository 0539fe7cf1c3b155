package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sampleflow/internal/broker"
	"sampleflow/internal/catalog"
	"sampleflow/internal/constants"
	"sampleflow/internal/deadletter"
	"sampleflow/internal/ledger"
	"sampleflow/internal/logger"
	"sampleflow/internal/schema"
	"sampleflow/internal/store"
	"sampleflow/internal/transform"
	apperrors "sampleflow/pkg/errors"
	"sampleflow/pkg/logging"
	"sampleflow/pkg/metrics"
	"sampleflow/pkg/models"
)

// Terminal outcomes for a delivery. Every message ends in exactly one of
// these before its offset is committed.
const (
	statusAcked        = "acked"
	statusDuplicate    = "duplicate"
	statusRetried      = "retried"
	statusDeadLettered = "dead_lettered"
)

// Pipeline drives a single delivery from raw bytes to a terminal state:
// decode, validate, normalize, resolve the target variable, claim the dedup
// ledger, write to the store, then ack, requeue, or dead-letter. Returning
// nil commits the offset; returning an error leaves the message for
// redelivery.
type Pipeline struct {
	validator  *schema.Validator
	normalizer *transform.Normalizer
	resolver   catalog.Resolver
	ledger     *ledger.Service
	writer     store.Writer
	deadLetter *deadletter.Router
	scheduler  *Scheduler
	logger     logger.Logger
}

func New(
	validator *schema.Validator,
	normalizer *transform.Normalizer,
	resolver catalog.Resolver,
	ledgerSvc *ledger.Service,
	writer store.Writer,
	dlRouter *deadletter.Router,
	scheduler *Scheduler,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		validator:  validator,
		normalizer: normalizer,
		resolver:   resolver,
		ledger:     ledgerSvc,
		writer:     writer,
		deadLetter: dlRouter,
		scheduler:  scheduler,
		logger:     log,
	}
}

// Handle implements broker.HandlerFunc.
func (p *Pipeline) Handle(ctx context.Context, d broker.Delivery) error {
	start := time.Now()
	status, err := p.processSafe(ctx, d)
	if err != nil {
		return err
	}

	metrics.MessagesProcessedTotal.WithLabelValues(status).Inc()
	metrics.ObserveProcessingDuration(time.Since(start), status)
	return nil
}

// processSafe dead-letters a panicking message. Without this a deterministic
// panic would pin the consumer, which retries handler errors in place.
func (p *Pipeline) processSafe(ctx context.Context, d broker.Delivery) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := apperrors.RecoverPanic(r)
			p.logger.ErrorwCtx(ctx, "Panic while processing message",
				"error", cause,
				"topic", d.Topic,
				"offset", d.Offset,
			)
			env, _ := schema.DecodeEnvelope(d.Value)
			status, err = p.reject(ctx, d, env, "internal", cause)
		}
	}()
	return p.process(ctx, d)
}

func (p *Pipeline) process(ctx context.Context, d broker.Delivery) (string, error) {
	env, err := schema.DecodeEnvelope(d.Value)
	if err != nil {
		// Undecodable bytes carry no sample id; the router derives a
		// deterministic record id from the delivery coordinates.
		if dlErr := p.deadLetter.Route(ctx, d, "", constants.StageValidate, apperrors.Code(err), err.Error(), 0, time.Now().UTC()); dlErr != nil {
			return "", dlErr
		}
		return statusDeadLettered, nil
	}

	ctx = logging.WithMessageID(ctx, env.ID)
	ctx = logging.WithSampleID(ctx, env.SampleID)

	if err := p.awaitNotBefore(ctx, env); err != nil {
		return "", err
	}

	rec, err := p.validator.Validate(env)
	if err != nil {
		return p.reject(ctx, d, env, constants.StageValidate, err)
	}

	rec, err = p.normalizer.Normalize(rec)
	if err != nil {
		return p.reject(ctx, d, env, constants.StageTransform, err)
	}

	if rec.VariableID == "" {
		variableID, err := p.resolver.Resolve(ctx, rec.Source, rec.Metric)
		if err != nil {
			if apperrors.IsPermanent(err) {
				return p.reject(ctx, d, env, constants.StageResolve, err)
			}
			return p.requeueOrReject(ctx, d, env, constants.StageResolve, err, 0)
		}
		rec.VariableID = variableID
	}

	owner := uuid.NewString()
	claim, err := p.ledger.AwaitClaim(ctx, rec.SampleID, owner)
	if err != nil {
		return p.requeueOrReject(ctx, d, env, constants.StageDedupCheck, err, 0)
	}
	if claim == ledger.StatusAlreadyApplied {
		p.logger.DebugwCtx(ctx, "Sample already applied, skipping store write")
		return statusDuplicate, nil
	}

	outcome := p.writer.Write(ctx, rec)
	switch outcome.Kind {
	case store.OutcomeSuccess:
		if err := p.ledger.Commit(ctx, rec.SampleID); err != nil {
			// The write is durable; a lost commit at worst costs one
			// redundant upsert on redelivery.
			p.logger.ErrorwCtx(ctx, "Failed to commit ledger entry after store write", "error", err)
		}
		return statusAcked, nil

	case store.OutcomePermanent:
		p.release(ctx, rec.SampleID, owner)
		return p.reject(ctx, d, env, constants.StageWrite, storeError(outcome))

	default:
		p.release(ctx, rec.SampleID, owner)
		return p.requeueOrReject(ctx, d, env, constants.StageWrite, storeError(outcome), outcome.RetryAfter)
	}
}

// storeError lifts a write outcome into the error taxonomy so the dead-letter
// record and the metrics label carry the right failure class.
func storeError(outcome store.Outcome) error {
	base := apperrors.ErrStoreUnavailable.AsRetryable()
	if outcome.Kind == store.OutcomePermanent {
		base = apperrors.ErrStoreRejected.AsFatal()
	}
	if outcome.Reason != "" {
		base = base.WithDetail("reason", outcome.Reason)
	}
	if outcome.Err != nil {
		base = base.WithCause(outcome.Err)
	}
	return base
}

// awaitNotBefore honors the backoff stamped into a requeued envelope by
// sleeping out the remainder. Retry-topic traffic is sparse enough that
// parking the worker is cheaper than a delay queue.
func (p *Pipeline) awaitNotBefore(ctx context.Context, env models.MessageEnvelope) error {
	if env.Attempt == nil {
		return nil
	}
	remaining := time.Until(env.Attempt.NotBefore)
	if remaining <= 0 {
		return nil
	}

	p.logger.DebugwCtx(ctx, "Waiting for retry backoff to elapse", "remaining", remaining)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(remaining):
		return nil
	}
}

// reject dead-letters the envelope. A sink failure propagates so the offset
// stays uncommitted and the delivery comes back.
func (p *Pipeline) reject(ctx context.Context, d broker.Delivery, env models.MessageEnvelope, stage string, cause error) (string, error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	firstSeen := time.Now().UTC()
	if env.Attempt != nil && !env.Attempt.FirstSeen.IsZero() {
		firstSeen = env.Attempt.FirstSeen
	}

	// The failing attempt counts, so a first-delivery rejection records one.
	if err := p.deadLetter.Route(ctx, d, env.SampleID, stage, apperrors.Code(cause), reason, env.AttemptCount()+1, firstSeen); err != nil {
		return "", err
	}
	return statusDeadLettered, nil
}

// requeueOrReject schedules a retry for a transient failure, or dead-letters
// once the attempt budget is spent.
func (p *Pipeline) requeueOrReject(ctx context.Context, d broker.Delivery, env models.MessageEnvelope, stage string, cause error, hint time.Duration) (string, error) {
	if p.scheduler.Exhausted(env) {
		p.logger.WarnwCtx(ctx, "Retry budget exhausted, dead-lettering",
			"stage", stage,
			"attempts", env.AttemptCount()+1,
		)
		return p.reject(ctx, d, env, stage, cause)
	}

	if err := p.scheduler.Requeue(ctx, env, stage, cause, hint); err != nil {
		return "", err
	}
	return statusRetried, nil
}

func (p *Pipeline) release(ctx context.Context, sampleID, owner string) {
	if err := p.ledger.Release(ctx, sampleID, owner); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to release ledger claim", "error", err)
	}
}

package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sampleflow/internal/broker"
	"sampleflow/internal/config"
	"sampleflow/internal/logger"
)

// ConsumerFactory builds one consumer per worker. Each worker gets its own
// group member so partition assignment spreads the load and offset commits
// never interleave across goroutines.
type ConsumerFactory func() (broker.Consumer, error)

// Pool fans the input and retry topics out over a fixed set of workers. Each
// worker is a full consumer that pulls, processes, and commits one message at
// a time.
type Pool struct {
	cfg         config.Config
	newConsumer ConsumerFactory
	handler     broker.HandlerFunc
	logger      logger.Logger
	consumers   []broker.Consumer
}

func NewPool(cfg config.Config, factory ConsumerFactory, handler broker.HandlerFunc, log logger.Logger) *Pool {
	return &Pool{
		cfg:         cfg,
		newConsumer: factory,
		handler:     handler,
		logger:      log,
	}
}

// Run blocks until ctx is cancelled or a consumer fails irrecoverably.
func (p *Pool) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Pipeline.Workers; i++ {
		if err := p.spawn(g, gCtx, fmt.Sprintf("ingest-%d", i), p.cfg.Broker.Kafka.InputTopic); err != nil {
			return err
		}
	}

	// Retry traffic is a trickle compared to the input topic; a single
	// consumer keeps requeued messages moving without stealing partitions
	// from the main pool.
	if err := p.spawn(g, gCtx, "retry-0", p.cfg.Broker.Kafka.RetryTopic); err != nil {
		return err
	}

	p.logger.Infow("Pipeline workers started",
		"workers", p.cfg.Pipeline.Workers,
		"input_topic", p.cfg.Broker.Kafka.InputTopic,
		"retry_topic", p.cfg.Broker.Kafka.RetryTopic,
	)

	err := g.Wait()

	for _, c := range p.consumers {
		if closeErr := c.Close(); closeErr != nil {
			p.logger.Warnw("Failed to close consumer", "error", closeErr)
		}
	}

	return err
}

func (p *Pool) spawn(g *errgroup.Group, ctx context.Context, name, topic string) error {
	consumer, err := p.newConsumer()
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", name, err)
	}
	consumer.SetServiceName(name)
	p.consumers = append(p.consumers, consumer)

	g.Go(func() error {
		return consumer.Consume(ctx, topic, p.handler)
	})
	return nil
}

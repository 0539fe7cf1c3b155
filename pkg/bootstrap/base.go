package bootstrap

import (
	"context"
	"fmt"

	"sampleflow/internal/broker"
	"sampleflow/internal/config"
	"sampleflow/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitProducer opens the shared producer used for retry requeues. Consumers
// are not shared; each pipeline worker builds its own via NewConsumer.
func (b *Base) InitProducer() error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	b.Producer = producer
	return nil
}

func (b *Base) NewConsumer() (broker.Consumer, error) {
	return broker.NewConsumer(b.Config.Broker, b.Logger)
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}

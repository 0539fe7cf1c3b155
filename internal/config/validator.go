package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}

	if err := validateLedger(cfg.Ledger); err != nil {
		errs = append(errs, err)
	}

	if err := validateStore(cfg.Store); err != nil {
		errs = append(errs, err)
	}

	if err := validateDeadLetter(cfg.DeadLetter); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	if cfg.Kafka.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "consumer group id is required",
		}
	}

	if cfg.Kafka.InputTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "input topic is required",
		}
	}

	if cfg.Kafka.RetryTopic == cfg.Kafka.InputTopic {
		return &ValidationError{
			Field:   "broker.kafka.retry_topic",
			Message: "retry topic must differ from the input topic",
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "pipeline.workers",
			Message: "worker count must be at least 1",
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "pipeline.retry.max_attempts",
			Message: "max attempts must be at least 1",
		}
	}

	if cfg.Retry.Multiplier < 1 {
		return &ValidationError{
			Field:   "pipeline.retry.multiplier",
			Message: "multiplier must be at least 1",
		}
	}

	if cfg.Retry.JitterFraction < 0 || cfg.Retry.JitterFraction >= 1 {
		return &ValidationError{
			Field:   "pipeline.retry.jitter_fraction",
			Message: "jitter fraction must be in [0, 1)",
		}
	}

	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "pipeline.retry.max_interval",
			Message: "max interval must not be below the initial interval",
		}
	}

	return nil
}

func validateLedger(cfg LedgerConfig) error {
	switch cfg.Backend {
	case "redis", "memory":
	default:
		return &ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unsupported ledger backend %q", cfg.Backend),
		}
	}

	if cfg.LeaseTTL <= 0 {
		return &ValidationError{
			Field:   "ledger.lease_ttl",
			Message: "lease TTL must be positive",
		}
	}

	if cfg.Retention <= 0 {
		return &ValidationError{
			Field:   "ledger.retention",
			Message: "retention must be positive",
		}
	}

	return nil
}

func validateStore(cfg StoreConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{
			Field:   "store.base_url",
			Message: "store base URL is required",
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return &ValidationError{
			Field:   "store.rate_limit.rps",
			Message: "rate limit RPS must be positive when enabled",
		}
	}

	return nil
}

func validateDeadLetter(cfg DeadLetterConfig) error {
	switch cfg.Sink {
	case "mongodb", "postgres":
		return nil
	default:
		return &ValidationError{
			Field:   "deadletter.sink",
			Message: fmt.Sprintf("unsupported dead-letter sink %q", cfg.Sink),
		}
	}
}

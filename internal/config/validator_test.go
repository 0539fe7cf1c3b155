package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Broker: BrokerConfig{
			Type: "kafka",
			Kafka: KafkaConfig{
				Brokers:    []string{"localhost:9092"},
				GroupID:    "ingest-service",
				InputTopic: "lab_samples",
				RetryTopic: "lab_samples_retry",
			},
		},
		Pipeline: PipelineConfig{
			Workers: 4,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
				JitterFraction:  0.2,
			},
		},
		Ledger: LedgerConfig{
			Backend:   "redis",
			LeaseTTL:  30 * time.Second,
			Retention: 24 * time.Hour,
		},
		Store: StoreConfig{
			BaseURL: "http://clever:8000/api",
		},
		DeadLetter: DeadLetterConfig{
			Sink:       "mongodb",
			Collection: "dead_letters",
		},
	}
}

func TestValidateStatic_ValidConfig(t *testing.T) {
	assert.NoError(t, ValidateStatic(validConfig()))
}

func TestValidateStatic_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateStatic_RetryTopicMatchesInputTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Kafka.RetryTopic = cfg.Broker.Kafka.InputTopic

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_topic")
}

func TestValidateStatic_UnsupportedBrokerType(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Type = "rabbitmq"

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.type")
}

func TestValidateStatic_JitterFractionOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.Retry.JitterFraction = 1.0

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_fraction")
}

func TestValidateStatic_MaxIntervalBelowInitial(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.Retry.MaxInterval = time.Millisecond

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_interval")
}

func TestValidateStatic_UnknownLedgerBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Backend = "dynamo"

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.backend")
}

func TestValidateStatic_MissingStoreURL(t *testing.T) {
	cfg := validConfig()
	cfg.Store.BaseURL = ""

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.base_url")
}

func TestValidateStatic_UnknownDeadLetterSink(t *testing.T) {
	cfg := validConfig()
	cfg.DeadLetter.Sink = "s3"

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadletter.sink")
}

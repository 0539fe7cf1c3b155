package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Broker         BrokerConfig
	Database       DatabaseConfig
	Pipeline       PipelineConfig
	Ledger         LedgerConfig
	Store          StoreConfig
	Catalog        CatalogConfig
	DeadLetter     DeadLetterConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	GroupID    string   `mapstructure:"group_id"`
	InputTopic string   `mapstructure:"input_topic"`
	RetryTopic string   `mapstructure:"retry_topic"`
}

type DatabaseConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type PipelineConfig struct {
	Workers int         `mapstructure:"workers"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	JitterFraction  float64       `mapstructure:"jitter_fraction"`
}

type LedgerConfig struct {
	Backend          string        `mapstructure:"backend"` // "redis" or "memory"
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	Retention        time.Duration `mapstructure:"retention"`
	InFlightRecheck  time.Duration `mapstructure:"inflight_recheck"`
	InFlightAttempts int           `mapstructure:"inflight_attempts"`
}

type StoreConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit RateConfig    `mapstructure:"rate_limit"`
}

type RateConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type CatalogConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	AutoCreate bool          `mapstructure:"auto_create"`
}

type DeadLetterConfig struct {
	Sink       string `mapstructure:"sink"` // "mongodb" or "postgres"
	Collection string `mapstructure:"collection"`
	Table      string `mapstructure:"table"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

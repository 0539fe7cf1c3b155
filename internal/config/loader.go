package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.retry_topic", "BROKER_KAFKA_RETRY_TOPIC")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("store.base_url", "STORE_BASE_URL")
	viper.BindEnv("store.api_key", "STORE_API_KEY")
	viper.BindEnv("catalog.base_url", "CATALOG_BASE_URL")
	viper.BindEnv("catalog.auto_create", "CATALOG_AUTO_CREATE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func setDefaults() {
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.retry.max_attempts", 3)
	viper.SetDefault("pipeline.retry.initial_interval", "1s")
	viper.SetDefault("pipeline.retry.max_interval", "30s")
	viper.SetDefault("pipeline.retry.multiplier", 2.0)
	viper.SetDefault("pipeline.retry.jitter_fraction", 0.2)

	viper.SetDefault("ledger.backend", "redis")
	viper.SetDefault("ledger.lease_ttl", "30s")
	viper.SetDefault("ledger.retention", "24h")
	viper.SetDefault("ledger.inflight_recheck", "200ms")
	viper.SetDefault("ledger.inflight_attempts", 5)

	viper.SetDefault("store.timeout", "10s")
	viper.SetDefault("catalog.timeout", "10s")
	viper.SetDefault("catalog.cache_ttl", "5m")

	viper.SetDefault("deadletter.sink", "mongodb")
	viper.SetDefault("deadletter.collection", "dead_letters")
	viper.SetDefault("deadletter.table", "dead_letters")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
)

// ErrNotConfigured reports that an optional backing store has no connection
// settings. Callers that require the store turn this into a config error;
// callers that can run without it skip the connection.
var ErrNotConfigured = errors.New("database not configured")

// DatabaseConnector opens the backing stores the ingest service may need:
// Redis for the dedup ledger and catalog cache, and PostgreSQL or MongoDB
// for the dead-letter sink. Only Redis is mandatory infrastructure; the
// sink stores are connected on demand.
type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", addr, err)
	}

	dc.Logger.Infow("Redis connected", "addr", addr, "db", dc.Config.Database.Redis.DB)
	return rdb, nil
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if pg.Host == "" {
		return nil, fmt.Errorf("postgresql: %w", ErrNotConfigured)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, pg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres at %s:%d: %w", pg.Host, pg.Port, err)
	}

	dc.Logger.Infow("PostgreSQL connected", "host", pg.Host, "database", pg.DBName)
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	uri := dc.Config.Database.MongoDB.URI
	if uri == "" {
		return nil, fmt.Errorf("mongodb: %w", ErrNotConfigured)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Infow("MongoDB connected", "database", dc.Config.Database.MongoDB.Database)
	return client, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, redis *redis.Client, postgres *sql.DB, mongo *mongo.Client) []error {
	var errs []error

	if redis != nil {
		if err := redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if mongo != nil {
		if err := mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}

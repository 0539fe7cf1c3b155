package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"sampleflow/internal/catalog"
	"sampleflow/internal/config"
	"sampleflow/internal/constants"
	"sampleflow/internal/deadletter"
	"sampleflow/internal/ledger"
	"sampleflow/internal/logger"
	"sampleflow/internal/pipeline"
	"sampleflow/internal/schema"
	"sampleflow/internal/store"
	"sampleflow/internal/transform"
	"sampleflow/pkg/bootstrap"
	"sampleflow/pkg/health"
	"sampleflow/pkg/logging"
	"sampleflow/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	mongo       *mongo.Client
	postgres    *sql.DB
	ledgerSvc   *ledger.Service
	sink        deadletter.Sink
	pool        *pipeline.Pool
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("ingest-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitProducer(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	ledgerSvc, err := a.initLedger()
	if err != nil {
		return fmt.Errorf("failed to initialize dedup ledger: %w", err)
	}
	a.ledgerSvc = ledgerSvc

	writer := a.initStore()
	resolver := a.initCatalog()

	router, err := a.initDeadLetter(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize dead-letter sink: %w", err)
	}

	scheduler := pipeline.NewScheduler(a.Producer, a.Config.Broker.Kafka.RetryTopic, a.Config.Pipeline.Retry, a.Logger)
	pl := pipeline.New(
		schema.NewValidator(),
		transform.NewNormalizer(),
		resolver,
		ledgerSvc,
		writer,
		router,
		scheduler,
		a.Logger,
	)
	a.pool = pipeline.NewPool(*a.Config, a.NewConsumer, pl.Handle, a.Logger)

	metrics.RegisterPipelineMetrics()
	metrics.RegisterStoreMetrics()
	metrics.RegisterLedgerMetrics()
	metrics.RegisterCatalogMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	needsRedis := a.Config.Ledger.Backend == "redis" || a.Config.Catalog.CacheTTL > 0

	if needsRedis {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = rdb
	}

	switch a.Config.DeadLetter.Sink {
	case "mongodb":
		client, err := a.dbConnector.InitMongoDB(ctx)
		if errors.Is(err, bootstrap.ErrNotConfigured) {
			return fmt.Errorf("dead-letter sink is mongodb but database.mongodb.uri is empty: %w", err)
		}
		if err != nil {
			return err
		}
		a.mongo = client
	case "postgres":
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if errors.Is(err, bootstrap.ErrNotConfigured) {
			return fmt.Errorf("dead-letter sink is postgres but database.postgres.host is empty: %w", err)
		}
		if err != nil {
			return err
		}
		a.postgres = db
	}

	return nil
}

func (a *App) initLedger() (*ledger.Service, error) {
	var backend ledger.Ledger
	switch a.Config.Ledger.Backend {
	case "redis":
		backend = ledger.NewRedisLedger(a.redis)
	case "memory":
		backend = ledger.NewMemoryLedger()
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", a.Config.Ledger.Backend)
	}

	if a.Config.CircuitBreaker.Enabled {
		backend = ledger.NewCircuitBreakerLedger(backend, a.Config.CircuitBreaker)
		initCtx := logging.WithServiceName(context.Background(), "ingest-service")
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for dedup ledger")
	}

	return ledger.NewService(backend, a.Config.Ledger, a.Logger), nil
}

func (a *App) initStore() store.Writer {
	var writer store.Writer = store.NewCleverWriter(a.Config.Store, a.Logger)
	if a.Config.CircuitBreaker.Enabled {
		writer = store.NewBreakerWriter(writer, a.Config.CircuitBreaker)
	}
	return writer
}

func (a *App) initCatalog() catalog.Resolver {
	var resolver catalog.Resolver = catalog.NewAPIResolver(a.Config.Catalog, a.Logger)
	if a.redis != nil && a.Config.Catalog.CacheTTL > 0 {
		resolver = catalog.NewCachedResolver(resolver, a.redis, a.Config.Catalog.CacheTTL, a.Logger)
	}
	return resolver
}

func (a *App) initDeadLetter(ctx context.Context) (*deadletter.Router, error) {
	var (
		sink deadletter.Sink
		err  error
	)

	switch a.Config.DeadLetter.Sink {
	case "mongodb":
		db := a.mongo.Database(a.Config.Database.MongoDB.Database)
		sink, err = deadletter.NewMongoSink(ctx, db, a.Config.DeadLetter.Collection)
	case "postgres":
		sink, err = deadletter.NewPostgresSink(ctx, a.postgres, a.Config.DeadLetter.Table)
	default:
		err = fmt.Errorf("unknown dead-letter sink: %s", a.Config.DeadLetter.Sink)
	}
	if err != nil {
		return nil, err
	}

	a.sink = sink
	return deadletter.NewRouter(sink, a.Logger), nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.mongo != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongo))
	}
	if a.postgres != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.postgres))
	}
	healthRegistry.Register(health.NewStoreChecker(a.Config.Store.BaseURL))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return a.pool.Run(gCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "ingest-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.ledgerSvc != nil {
			a.ledgerSvc.Close()
		}

		if a.sink != nil {
			if err := a.sink.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dead-letter sink close error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgres, a.mongo)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

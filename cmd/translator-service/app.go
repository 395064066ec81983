package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/deduplication"
	"wikirelay/internal/enrichment"
	"wikirelay/internal/logger"
	"wikirelay/internal/relay"
	"wikirelay/internal/sink"
	"wikirelay/pkg/bootstrap"
	"wikirelay/pkg/health"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	postgresDB     *sql.DB
	relay          *relay.Relay
	server         *bootstrap.OpsServer
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceNameTranslator),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameTranslator)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterRelayMetrics()
	metrics.RegisterEnrichmentMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterSinkMetrics()
	metrics.RegisterNotificationMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	initCtx, cancel := context.WithTimeout(ctx, constants.InitTimeout)
	defer cancel()

	if err := a.initDatabases(initCtx); err != nil {
		return err
	}

	if err := a.InitConsumer(); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	if err := a.InitProducer(); err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}

	if err := a.initRelay(initCtx); err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	a.server = bootstrap.NewOpsServer(a.Config, constants.ServiceNameTranslator, a.healthRegistry(), a.Logger)
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	switch a.Config.Sink.Type {
	case constants.SinkTypeMongoDB:
		client, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		a.mongoClient = client
	case constants.SinkTypePostgres:
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.postgresDB = db
	}
	return nil
}

func (a *App) initRelay(ctx context.Context) error {
	enricher := enrichment.NewClient(a.Config.Enrichment, a.Logger, a.enrichmentOptions()...)

	var opts []relay.Option

	writer, err := a.initSink(ctx)
	if err != nil {
		return err
	}
	opts = append(opts, relay.WithSink(writer))

	if a.Config.Relay.DeliveryMode == constants.DeliveryModeAtLeastOnce {
		if a.redis != nil {
			repo := deduplication.NewCircuitBreakerRepository(deduplication.NewRepository(a.redis), a.Config.CircuitBreaker)
			opts = append(opts, relay.WithGuard(deduplication.NewGuard(repo, a.Config.Relay.DedupTTL, a.Logger)))
		} else {
			a.Logger.WarnwCtx(ctx, "at_least_once without Redis: redelivered messages may be published twice")
		}
	}

	r, err := relay.New(a.Config.Relay, a.Config.Broker.Kafka, a.Consumer, a.Producer, enricher, a.Logger, opts...)
	if err != nil {
		return err
	}
	a.relay = r

	a.Logger.InfowCtx(ctx, "Translator service initialized",
		"input_topic", a.Config.Broker.Kafka.InputTopic,
		"output_topic", a.Config.Broker.Kafka.OutputTopic,
		"model", a.Config.Enrichment.Model,
		"delivery_mode", a.Config.Relay.DeliveryMode,
		"sink", writer.Name(),
	)
	return nil
}

func (a *App) enrichmentOptions() []enrichment.Option {
	var opts []enrichment.Option

	if a.Config.Enrichment.Cache.Enabled && a.redis != nil {
		opts = append(opts, enrichment.WithCache(
			enrichment.NewRedisCache(a.redis, a.Config.Enrichment.Model, a.Config.Enrichment.Cache.TTL),
		))
	}
	if a.Config.CircuitBreaker.Enabled {
		opts = append(opts, enrichment.WithCircuitBreaker(a.Config.CircuitBreaker))
	}
	if rl := a.Config.Enrichment.RateLimit; rl.Enabled {
		opts = append(opts, enrichment.WithRateLimit(rl.RPS, rl.Burst))
	}
	return opts
}

func (a *App) initSink(ctx context.Context) (sink.Writer, error) {
	var mongoDB *mongo.Database
	if a.mongoClient != nil {
		db, err := a.dbConnector.MongoDatabase(ctx, a.mongoClient)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare MongoDB sink: %w", err)
		}
		mongoDB = db
	}
	return sink.New(a.Config.Sink, mongoDB, a.postgresDB, a.Logger)
}

func (a *App) healthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	if a.redis != nil {
		// The cache and the duplicate guard both fail open.
		registry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		registry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	if a.postgresDB != nil {
		registry.RegisterOptional(health.NewPostgreSQLChecker(a.postgresDB))
	}
	return registry
}

// Run relays until ctx is cancelled or at_least_once delivery is exhausted.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.server.Shutdown()
	})

	g.Go(func() error {
		return a.relay.Run(gCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	var relayErr error
	if a.relay != nil {
		// The relay owns the broker clients once it exists.
		relayErr = a.relay.Close()
		a.Consumer = nil
		a.Producer = nil
	}

	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error
		if relayErr != nil {
			errs = append(errs, relayErr)
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgresDB, a.mongoClient)...)

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return errs
	})
}

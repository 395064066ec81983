package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/internal/stream"
	"wikirelay/pkg/bootstrap"
	"wikirelay/pkg/health"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	reader         *stream.Reader
	normalizer     *stream.Normalizer
	server         *bootstrap.OpsServer
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log, constants.ServiceNameStream),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameStream)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterStreamMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterNotificationMetrics()

	if err := a.InitProducer(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	// Topic A: this service's output is the translator's input.
	normalizer, err := stream.NewNormalizer(a.Config.Stream, a.Config.Broker.Kafka.InputTopic, a.Producer, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize normalizer: %w", err)
	}
	a.normalizer = normalizer
	a.reader = stream.NewReader(a.Config.Stream, a.Notifier, a.Config.Notification.ReconnectAlertThreshold, a.Logger)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	healthRegistry.RegisterOptional(health.NewFuncChecker("stream", a.reader.HealthCheck))
	a.server = bootstrap.NewOpsServer(a.Config, constants.ServiceNameStream, healthRegistry, a.Logger)

	a.Logger.InfowCtx(ctx, "Stream service initialized",
		"stream_url", a.Config.Stream.URL,
		"topic", a.Config.Broker.Kafka.InputTopic,
		"accepted_type", a.Config.Stream.AcceptedType,
	)
	return nil
}

// Run streams until ctx is cancelled. The ops server stops with it.
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
		return a.reader.Run(gCtx, a.normalizer.HandleEvent)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return errs
	})
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"wikirelay/internal/broker"
	"wikirelay/internal/config"
	"wikirelay/internal/logger"
	"wikirelay/internal/notification"
)

// Base holds what both services share: config, logger, broker clients and the operator notifier.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Notifier notification.Sender
	Producer broker.Producer
	Consumer broker.Consumer

	serviceName string
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &Base{
		Config:      cfg,
		Logger:      log,
		Notifier:    notification.NewSender(cfg.Notification, serviceName, log),
		serviceName: serviceName,
	}
}

func (b *Base) ServiceName() string {
	return b.serviceName
}

func (b *Base) InitProducer(opts ...broker.ProducerOption) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.serviceName, b.Logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer
	return nil
}

func (b *Base) InitConsumer() error {
	consumer, err := broker.NewConsumer(b.Config.Broker, b.serviceName, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	b.Consumer = consumer
	return nil
}

// FlushProducer waits up to the configured flush timeout and reports how many messages were left behind.
func (b *Base) FlushProducer() int {
	if b.Producer == nil {
		return 0
	}
	remaining := b.Producer.Flush(b.Config.Broker.Kafka.FlushTimeout)
	if remaining > 0 {
		b.Logger.Errorw("Producer flush timed out, messages may be lost", "remaining", remaining)
	}
	return remaining
}

// Warn sends an operator warning and logs when that fails.
func (b *Base) Warn(ctx context.Context, text string) {
	if err := b.Notifier.SendWarning(ctx, text); err != nil {
		b.Logger.Warnw("Failed to send operator warning", "error", err)
	}
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		b.FlushProducer()
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
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}

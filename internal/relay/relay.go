// Package relay runs the second stage: consume Topic A, enrich one field, publish to Topic B, commit.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wikirelay/internal/broker"
	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/deduplication"
	"wikirelay/internal/enrichment"
	"wikirelay/internal/logger"
	"wikirelay/internal/sink"
	apperrors "wikirelay/pkg/errors"
	"wikirelay/pkg/logging"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/models"
	"wikirelay/pkg/retry"
	"wikirelay/pkg/tracing"
)

// ErrDeliveryExhausted stops the loop in at_least_once mode: the input offset stays uncommitted.
var ErrDeliveryExhausted = errors.New("delivery to output topic failed after retries")

type Option func(*Relay)

func WithSink(w sink.Writer) Option {
	return func(r *Relay) {
		r.sink = w
	}
}

func WithGuard(g *deduplication.Guard) Option {
	return func(r *Relay) {
		r.guard = g
	}
}

// Relay processes one message at a time; ordering within a partition follows consumption order.
type Relay struct {
	consumer broker.Consumer
	producer broker.Producer
	enricher enrichment.Enricher
	sink     sink.Writer
	guard    *deduplication.Guard

	cfg          config.RelayConfig
	outputTopic  string
	pollTimeout  time.Duration
	flushTimeout time.Duration
	publishRetry retry.Policy
	location     *time.Location
	logger       logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.RelayConfig, kafkaCfg config.KafkaConfig, consumer broker.Consumer, producer broker.Producer,
	enricher enrichment.Enricher, log logger.Logger, opts ...Option) (*Relay, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	r := &Relay{
		consumer:     consumer,
		producer:     producer,
		enricher:     enricher,
		sink:         sink.NopWriter{},
		cfg:          cfg,
		outputTopic:  kafkaCfg.OutputTopic,
		pollTimeout:  kafkaCfg.PollTimeout,
		flushTimeout: kafkaCfg.FlushTimeout,
		publishRetry: retry.Policy{
			MaxAttempts:     kafkaCfg.Retry.MaxAttempts,
			InitialInterval: kafkaCfg.Retry.InitialInterval,
			MaxInterval:     kafkaCfg.Retry.MaxInterval,
			Multiplier:      kafkaCfg.Retry.Multiplier,
			MaxElapsedTime:  kafkaCfg.Retry.MaxElapsedTime,
		},
		location: loc,
		logger:   log,
		now:      time.Now,
		sleep:    sleepContext,
	}
	if r.pollTimeout <= 0 {
		r.pollTimeout = constants.KafkaPollTimeout
	}
	if r.flushTimeout <= 0 {
		r.flushTimeout = constants.DefaultFlushTimeout
	}
	if r.publishRetry.InitialInterval <= 0 {
		r.publishRetry = retry.DefaultPolicy()
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation and an error only when
// at_least_once delivery is exhausted.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Infow("Relay started",
		"output_topic", r.outputTopic,
		"source_field", r.cfg.SourceField,
		"target_field", r.cfg.TargetField,
		"delivery_mode", r.cfg.DeliveryMode,
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := r.consumer.Poll(ctx, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Errorw("Consumer poll failed", "error", err, "retry_in", r.cfg.PollErrorDelay)
			metrics.IncRelayMessage("poll_error")
			if err := r.sleep(ctx, r.cfg.PollErrorDelay); err != nil {
				return nil
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := r.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle relays one message and commits it. Only ErrDeliveryExhausted leaves it uncommitted.
func (r *Relay) Handle(ctx context.Context, msg *broker.Message) error {
	start := time.Now()
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	ctx = logging.WithPosition(ctx, msg.Partition, msg.Offset)
	if len(msg.Key) > 0 {
		ctx = logging.WithMessageID(ctx, string(msg.Key))
	}

	ctx, span := tracing.StartConsumerSpan(ctx, "relay.handle", msg.Headers)
	defer span.End()

	var status string
	err := apperrors.Safely(func() error {
		var err error
		status, err = r.process(ctx, msg)
		return err
	})

	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown: leave the offset for redelivery.
		return ctx.Err()
	}
	if errors.Is(err, ErrDeliveryExhausted) {
		metrics.IncRelayMessage("delivery_failed")
		metrics.ObserveRelayDuration(time.Since(start), "delivery_failed")
		return err
	}
	if err != nil {
		status = "error"
		r.logger.ErrorwCtx(ctx, "Failed to handle message, skipping",
			"error", err,
			"topic", msg.Topic,
		)
	}

	r.commit(ctx, msg)
	metrics.IncRelayMessage(status)
	metrics.ObserveRelayDuration(time.Since(start), status)
	return nil
}

func (r *Relay) process(ctx context.Context, msg *broker.Message) (string, error) {
	input, err := models.DecodeObject(msg.Value)
	if err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to decode message JSON, skipping",
			"error", err,
			"value", truncate(string(msg.Value), 512),
		)
		return "invalid_json", nil
	}

	text, ok := input[r.cfg.SourceField].(string)
	if !ok || text == "" {
		r.logger.WarnwCtx(ctx, "Message has no source text, skipping",
			"source_field", r.cfg.SourceField,
		)
		return "skipped", nil
	}

	if r.guard != nil && r.guard.Relayed(ctx, msg) {
		r.logger.InfowCtx(ctx, "Message already relayed, skipping")
		return "duplicate", nil
	}

	enriched := r.enricher.Enrich(ctx, text)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := models.NewEnrichedRecordBuilder(input).
		With(r.cfg.TargetField, enriched).
		With(constants.TranslatedAtField, r.now().In(r.location).Format(constants.TimeLayout)).
		Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to encode enriched record: %w", err)
	}

	env := broker.Envelope{
		Topic:   r.outputTopic,
		Key:     msg.Key,
		Value:   value,
		Headers: msg.Headers,
	}

	if r.cfg.DeliveryMode == constants.DeliveryModeAtLeastOnce {
		if err := r.publishConfirmed(ctx, env); err != nil {
			return "", err
		}
	} else if err := r.publish(ctx, env); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to publish enriched message",
			"error", err,
			"topic", r.outputTopic,
		)
		return "publish_failed", nil
	}
	if r.guard != nil {
		r.guard.MarkRelayed(context.WithoutCancel(ctx), msg)
	}

	if err := r.sink.Write(ctx, sink.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     value,
		Title:     text,
		Enriched:  enriched,
		CreatedAt: r.now(),
	}); err != nil {
		r.logger.WarnwCtx(ctx, "Failed to write record to sink", "sink", r.sink.Name(), "error", err)
	}

	status := "relayed"
	if enriched == "" {
		status = "relayed_empty"
	}
	r.logger.DebugwCtx(ctx, "Message relayed",
		"topic", r.outputTopic,
		"enriched", enriched != "",
	)
	return status, nil
}

// publish enqueues env and serves pending delivery reports; delivery is not awaited.
func (r *Relay) publish(ctx context.Context, env broker.Envelope) error {
	_, err := r.producer.Publish(ctx, env)
	r.producer.Poll()
	return err
}

// publishConfirmed waits for the broker's ack and republishes on failure until the policy runs out.
func (r *Relay) publishConfirmed(ctx context.Context, env broker.Envelope) error {
	err := retry.RetryWithCallback(ctx, r.publishRetry, func() error {
		ack, err := r.producer.Publish(ctx, env)
		r.producer.Poll()
		if err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, r.cfg.AckTimeout)
		defer cancel()
		_, err = ack.Wait(waitCtx)
		r.producer.Poll()
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt(constants.ServiceNameTranslator, env.Topic)
		r.logger.WarnwCtx(ctx, "Delivery not confirmed, republishing",
			"attempt", attempt,
			"retry_in", next,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.ErrorwCtx(ctx, "Delivery retries exhausted, stopping without commit",
			"error", err,
			"topic", env.Topic,
		)
		return fmt.Errorf("%w: %v", ErrDeliveryExhausted, err)
	}
	return nil
}

// commit outlives ctx so a shutdown signal cannot strand an already-published message uncommitted.
func (r *Relay) commit(ctx context.Context, msg *broker.Message) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.KafkaWriteTimeout)
	defer cancel()
	if err := r.consumer.Commit(commitCtx, msg); err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to commit offset",
			"error", err,
			"topic", msg.Topic,
		)
	}
}

// Close stops consuming, then flushes outstanding deliveries for up to the flush timeout.
func (r *Relay) Close() error {
	var errs []error

	if err := r.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("consumer close error: %w", err))
	}

	r.logger.Infow("Flushing producer", "timeout", r.flushTimeout)
	if remaining := r.producer.Flush(r.flushTimeout); remaining > 0 {
		r.logger.Errorw("Producer flush timed out, messages may be lost", "remaining", remaining)
	}

	if err := r.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("producer close error: %w", err))
	}

	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

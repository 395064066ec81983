package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	apperrors "wikirelay/pkg/errors"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type pendingDelivery struct {
	ack      *Ack
	enqueued time.Time
}

type ProducerOption func(*KafkaProducer)

// WithDeliveryCallback replaces the default logging callback invoked from Poll.
func WithDeliveryCallback(cb DeliveryCallback) ProducerOption {
	return func(p *KafkaProducer) {
		p.onDelivery = cb
	}
}

type KafkaProducer struct {
	writer      messageWriter
	logger      logger.Logger
	serviceName string
	onDelivery  DeliveryCallback
	reports     chan DeliveryReport
	pending     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

func NewKafkaProducer(cfg config.KafkaConfig, serviceName string, log logger.Logger, opts ...ProducerOption) *KafkaProducer {
	p := newKafkaProducer(nil, serviceName, log, opts...)
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.complete,
		Transport:              &kafka.Transport{ClientID: cfg.ClientID},
	}
	return p
}

func newKafkaProducer(w messageWriter, serviceName string, log logger.Logger, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		writer:      w,
		logger:      log,
		serviceName: serviceName,
		reports:     make(chan DeliveryReport, constants.KafkaDeliveryReportSize),
	}
	p.onDelivery = p.logDelivery
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KafkaProducer) Publish(ctx context.Context, env Envelope) (*Ack, error) {
	if p.closed.Load() {
		return nil, apperrors.ErrBrokerPublish.WithCause(ErrProducerClosed)
	}

	ctx, span := tracing.StartProducerSpan(ctx, env.Topic)
	defer span.End()

	headers := make([]kafka.Header, 0, len(env.Headers)+2)
	keys := make([]string, 0, len(env.Headers))
	for k := range env.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(env.Headers[k])})
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	ack := newAck()
	now := time.Now()
	msg := kafka.Message{
		Topic:      env.Topic,
		Key:        env.Key,
		Value:      env.Value,
		Headers:    headers,
		Time:       now,
		WriterData: &pendingDelivery{ack: ack, enqueued: now},
	}

	p.setPending(p.pending.Add(1))
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.setPending(p.pending.Add(-1))
		span.RecordError(err)
		return nil, apperrors.ErrBrokerPublish.WithCause(fmt.Errorf("failed to enqueue kafka message: %w", err))
	}

	metrics.ObserveKafkaMessageSize(p.serviceName, env.Topic, "out", len(env.Value))
	return ack, nil
}

// complete runs on the writer's I/O goroutine once a batch has been acknowledged or rejected.
func (p *KafkaProducer) complete(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		report := DeliveryReport{
			Topic:     m.Topic,
			Key:       m.Key,
			Partition: m.Partition,
			Offset:    m.Offset,
			Err:       err,
		}

		if d, ok := m.WriterData.(*pendingDelivery); ok {
			report.Latency = time.Since(d.enqueued)
			d.ack.resolve(report)
		}

		if err != nil {
			metrics.IncKafkaDeliveryFailure(p.serviceName, m.Topic)
		} else {
			metrics.IncKafkaMessagesWritten(p.serviceName, m.Topic)
			metrics.ObserveKafkaDeliveryDuration(p.serviceName, m.Topic, report.Latency)
		}

		select {
		case p.reports <- report:
		default:
			p.logger.Errorw("Delivery report queue full, report dropped",
				"topic", report.Topic,
				"key", string(report.Key),
				"error", report.Err,
			)
		}

		p.setPending(p.pending.Add(-1))
	}
}

func (p *KafkaProducer) Poll() int {
	served := 0
	for {
		select {
		case report := <-p.reports:
			p.onDelivery(report)
			served++
		default:
			return served
		}
	}
}

func (p *KafkaProducer) Flush(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(constants.KafkaFlushPollInterval)
	defer ticker.Stop()

	for {
		remaining := p.pending.Load()
		p.Poll()
		if remaining <= 0 {
			return 0
		}
		if !time.Now().Before(deadline) {
			p.logger.Errorw("Flush timed out, undelivered messages will be lost",
				"pending", remaining,
				"timeout", timeout,
			)
			return int(remaining)
		}
		<-ticker.C
	}
}

// Close stops accepting messages and closes the writer, waiting at most the shutdown timeout.
func (p *KafkaProducer) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		done := make(chan error, 1)
		go func() {
			done <- p.writer.Close()
		}()

		select {
		case p.closeErr = <-done:
		case <-time.After(constants.ShutdownTimeout):
			p.closeErr = fmt.Errorf("kafka writer close timed out after %s", constants.ShutdownTimeout)
		}
		p.Poll()
	})
	return p.closeErr
}

func (p *KafkaProducer) Pending() int64 {
	return p.pending.Load()
}

func (p *KafkaProducer) setPending(n int64) {
	metrics.SetKafkaPending(p.serviceName, n)
}

func (p *KafkaProducer) logDelivery(report DeliveryReport) {
	if report.Err != nil {
		p.logger.Errorw("Message delivery failed",
			"topic", report.Topic,
			"key", string(report.Key),
			"error", report.Err,
		)
		return
	}
	p.logger.Debugw("Message delivered",
		"topic", report.Topic,
		"partition", report.Partition,
		"offset", report.Offset,
		"latency", report.Latency,
	)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	reader      messageReader
	topic       string
	logger      logger.Logger
	serviceName string
}

// NewKafkaConsumer joins cfg.GroupID on topic, starting from the earliest offset with auto-commit disabled.
func NewKafkaConsumer(cfg config.KafkaConfig, topic, serviceName string, log logger.Logger) *KafkaConsumer {
	log.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
		"service_name", serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       constants.KafkaMaxBytes,
		MaxWait:        constants.KafkaMaxWait,
		Dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   constants.KafkaDialTimeout,
			DualStack: true,
		},
	})

	return newKafkaConsumer(reader, topic, serviceName, log)
}

func newKafkaConsumer(r messageReader, topic, serviceName string, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:      r,
		topic:       topic,
		logger:      log,
		serviceName: serviceName,
	}
}

func (c *KafkaConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := c.reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch kafka message: %w", err)
	}

	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))

	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}, nil
}

// Commit synchronously commits msg's offset. Nothing else is committed implicitly.
func (c *KafkaConsumer) Commit(ctx context.Context, msg *Message) error {
	err := c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
	if err != nil {
		metrics.IncKafkaCommit(c.serviceName, msg.Topic, "error")
		return apperrors.ErrBrokerCommit.WithCause(err)
	}
	metrics.IncKafkaCommit(c.serviceName, msg.Topic, "success")
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.logger.Infow("Closing Kafka reader", "topic", c.topic)
	return c.reader.Close()
}

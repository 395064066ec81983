// Package brokertest provides in-memory broker.Producer and broker.Consumer implementations for tests.
package brokertest

import (
	"context"
	"sync"
	"time"

	"wikirelay/internal/broker"
)

// Producer records every published envelope. Deliveries succeed immediately unless
// PublishErr, DeliveryErr or Hold say otherwise.
type Producer struct {
	mu        sync.Mutex
	published []broker.Envelope
	pending   []func(broker.DeliveryReport)
	polls     int
	flushes   int
	closed    bool

	// PublishErr is returned from Publish without recording the envelope.
	PublishErr error
	// DeliveryErr fails the delivery report of every successful Publish.
	DeliveryErr error
	// DeliveryErrs fails the first len(DeliveryErrs) deliveries in order; nil entries succeed.
	DeliveryErrs []error
	// Hold leaves acks unresolved until Release is called.
	Hold bool
}

func NewProducer() *Producer {
	return &Producer{}
}

func (p *Producer) Publish(_ context.Context, env broker.Envelope) (*broker.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, broker.ErrProducerClosed
	}
	if p.PublishErr != nil {
		return nil, p.PublishErr
	}

	p.published = append(p.published, env)
	offset := int64(len(p.published) - 1)

	deliveryErr := p.DeliveryErr
	if len(p.DeliveryErrs) > 0 {
		deliveryErr = p.DeliveryErrs[0]
		p.DeliveryErrs = p.DeliveryErrs[1:]
	}

	ack, resolve := broker.NewAck()
	report := broker.DeliveryReport{Topic: env.Topic, Key: env.Key, Offset: offset, Err: deliveryErr}
	if p.Hold {
		p.pending = append(p.pending, func(broker.DeliveryReport) { resolve(report) })
	} else {
		resolve(report)
	}
	return ack, nil
}

// Release resolves every held ack.
func (p *Producer) Release() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, resolve := range pending {
		resolve(broker.DeliveryReport{})
	}
}

func (p *Producer) Poll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	return 0
}

func (p *Producer) Flush(time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return len(p.pending)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) Published() []broker.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]broker.Envelope, len(p.published))
	copy(out, p.published)
	return out
}

func (p *Producer) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *Producer) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Consumer serves queued messages in order and records commits.
type Consumer struct {
	mu        sync.Mutex
	messages  []*broker.Message
	errs      []error
	committed []*broker.Message
	closed    bool
	drained   chan struct{}
	once      sync.Once

	// CommitErr is returned from every Commit.
	CommitErr error
}

func NewConsumer(messages ...*broker.Message) *Consumer {
	c := &Consumer{drained: make(chan struct{})}
	c.messages = append(c.messages, messages...)
	return c
}

// Add queues more messages.
func (c *Consumer) Add(messages ...*broker.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, messages...)
}

// FailNext makes the next Poll calls return errs in order before any message.
func (c *Consumer) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
}

// Drained is closed the first time Poll finds nothing left to serve.
func (c *Consumer) Drained() <-chan struct{} {
	return c.drained
}

func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		c.mu.Unlock()
		return nil, err
	}
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()

	c.once.Do(func() { close(c.drained) })

	if timeout > 10*time.Millisecond {
		timeout = 10 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (c *Consumer) Commit(_ context.Context, msg *broker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CommitErr != nil {
		return c.CommitErr
	}
	c.committed = append(c.committed, msg)
	return nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) Committed() []*broker.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*broker.Message, len(c.committed))
	copy(out, c.committed)
	return out
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

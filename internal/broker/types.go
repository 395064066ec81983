package broker

import (
	"context"
	"errors"
	"time"
)

var ErrProducerClosed = errors.New("producer is closed")

// Envelope is one message handed to a Producer. Value is already serialized.
type Envelope struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// DeliveryReport is the broker's verdict on one published Envelope.
type DeliveryReport struct {
	Topic     string
	Key       []byte
	Partition int
	Offset    int64
	Latency   time.Duration
	Err       error
}

type DeliveryCallback func(report DeliveryReport)

// Producer publishes without waiting for the broker. Reports are queued until Poll drains them.
type Producer interface {
	Publish(ctx context.Context, env Envelope) (*Ack, error)
	// Poll serves queued delivery reports without blocking and returns how many were served.
	Poll() int
	// Flush waits up to timeout for every enqueued message to complete and returns the number still pending.
	Flush(timeout time.Duration) int
	Close() error
}

// Message is one record read from the input topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Consumer reads with manual commits. Poll returns nil, nil when nothing arrived within timeout.
type Consumer interface {
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	Commit(ctx context.Context, msg *Message) error
	Close() error
}

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirelay/internal/logger"
)

// fakeWriter records enqueued messages; tests decide when the broker "completes" them.
type fakeWriter struct {
	mu       sync.Mutex
	queued   []kafka.Message
	writeErr error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.queued = append(w.queued, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) take() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	msgs := w.queued
	w.queued = nil
	return msgs
}

func newTestProducer(t *testing.T, opts ...ProducerOption) (*KafkaProducer, *fakeWriter) {
	t.Helper()
	w := &fakeWriter{}
	return newKafkaProducer(w, "test", logger.NopLogger(), opts...), w
}

func TestProducer_PublishReturnsBeforeDelivery(t *testing.T) {
	var reports []DeliveryReport
	p, w := newTestProducer(t, WithDeliveryCallback(func(r DeliveryReport) {
		reports = append(reports, r)
	}))

	ack, err := p.Publish(context.Background(), Envelope{
		Topic:   "wikipedia-stream-new",
		Key:     []byte("42"),
		Value:   []byte(`{"id":42}`),
		Headers: map[string]string{"source": "stream"},
	})
	require.NoError(t, err)

	select {
	case <-ack.Done():
		t.Fatal("ack resolved before the broker completed the write")
	default:
	}
	assert.Equal(t, int64(1), p.Pending())
	assert.Equal(t, 0, p.Poll())

	msgs := w.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, "wikipedia-stream-new", msgs[0].Topic)
	assert.Equal(t, []byte("42"), msgs[0].Key)
	assert.Equal(t, "source", msgs[0].Headers[0].Key)

	msgs[0].Partition = 2
	msgs[0].Offset = 17
	p.complete(msgs, nil)

	report, err := ack.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Partition)
	assert.Equal(t, int64(17), report.Offset)

	assert.Equal(t, 1, p.Poll())
	require.Len(t, reports, 1)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, int64(0), p.Pending())
}

func TestProducer_DeliveryFailureReported(t *testing.T) {
	var reports []DeliveryReport
	p, w := newTestProducer(t, WithDeliveryCallback(func(r DeliveryReport) {
		reports = append(reports, r)
	}))

	ack, err := p.Publish(context.Background(), Envelope{Topic: "t", Value: []byte("{}")})
	require.NoError(t, err)

	brokerErr := errors.New("message too large")
	p.complete(w.take(), brokerErr)

	_, err = ack.Wait(context.Background())
	assert.ErrorIs(t, err, brokerErr)

	p.Poll()
	require.Len(t, reports, 1)
	assert.ErrorIs(t, reports[0].Err, brokerErr)
}

func TestProducer_EnqueueError(t *testing.T) {
	p, w := newTestProducer(t)
	w.writeErr = errors.New("invalid topic")

	ack, err := p.Publish(context.Background(), Envelope{Topic: "t", Value: []byte("{}")})
	require.Error(t, err)
	assert.Nil(t, ack)
	assert.Equal(t, int64(0), p.Pending())
}

func TestProducer_FlushWaitsForCompletion(t *testing.T) {
	p, w := newTestProducer(t)

	for i := 0; i < 3; i++ {
		_, err := p.Publish(context.Background(), Envelope{Topic: "t", Value: []byte("{}")})
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.complete(w.take(), nil)
	}()

	assert.Equal(t, 0, p.Flush(time.Second))
}

func TestProducer_FlushTimeoutReportsLoss(t *testing.T) {
	p, _ := newTestProducer(t)

	for i := 0; i < 2; i++ {
		_, err := p.Publish(context.Background(), Envelope{Topic: "t", Value: []byte("{}")})
		require.NoError(t, err)
	}

	start := time.Now()
	assert.Equal(t, 2, p.Flush(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestProducer_PublishAfterClose(t *testing.T) {
	p, w := newTestProducer(t)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	_, err := p.Publish(context.Background(), Envelope{Topic: "t"})
	assert.ErrorIs(t, err, ErrProducerClosed)
	assert.NoError(t, p.Close())
}

func TestAck_WaitHonoursContext(t *testing.T) {
	ack := newAck()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ack.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ack.resolve(DeliveryReport{Topic: "t"})
	ack.resolve(DeliveryReport{Topic: "ignored"})
	assert.Equal(t, "t", ack.Report().Topic)
}

type fakeReader struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	fetchErr  error
	committed []kafka.Message
	commitErr error
	closed    bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{messages: make(chan kafka.Message, 10)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumer_PollTimeoutReturnsNil(t *testing.T) {
	c := newKafkaConsumer(newFakeReader(), "in", "test", logger.NopLogger())

	msg, err := c.Poll(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestConsumer_PollCancelledContext(t *testing.T) {
	c := newKafkaConsumer(newFakeReader(), "in", "test", logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := c.Poll(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, msg)
}

func TestConsumer_PollError(t *testing.T) {
	r := newFakeReader()
	r.fetchErr = errors.New("group coordinator not available")
	c := newKafkaConsumer(r, "in", "test", logger.NopLogger())

	msg, err := c.Poll(context.Background(), time.Second)
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "group coordinator not available")
}

func TestConsumer_PollAndCommit(t *testing.T) {
	r := newFakeReader()
	r.messages <- kafka.Message{
		Topic:     "in",
		Partition: 1,
		Offset:    99,
		Key:       []byte("k"),
		Value:     []byte(`{"title":"Foo"}`),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("00-abc")}},
	}
	c := newKafkaConsumer(r, "in", "test", logger.NopLogger())

	msg, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(99), msg.Offset)
	assert.Equal(t, "00-abc", msg.Headers["traceparent"])

	require.NoError(t, c.Commit(context.Background(), msg))
	require.Len(t, r.committed, 1)
	assert.Equal(t, "in", r.committed[0].Topic)
	assert.Equal(t, 1, r.committed[0].Partition)
	assert.Equal(t, int64(99), r.committed[0].Offset)

	r.commitErr = errors.New("rebalance in progress")
	assert.Error(t, c.Commit(context.Background(), msg))

	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

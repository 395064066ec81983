package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"wikirelay/internal/config"
	"wikirelay/internal/logger"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) SendWarning(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) handle(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testStreamConfig(url string) config.StreamConfig {
	return config.StreamConfig{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		MaxEventBytes:  1 << 16,
		UserAgent:      "wikirelay-test",
	}
}

func runReader(t *testing.T, r *Reader, handler HandlerFunc) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, handler) }()
	return cancel, done
}

func TestReader_DeliversMessageEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
		assert.Equal(t, "wikirelay-test", req.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ok\n\n")
		fmt.Fprint(w, "event: message\nid: 1\ndata: {\"a\":1}\n\n")
		fmt.Fprint(w, "event: ping\ndata: ignored\n\n")
		fmt.Fprint(w, "event: message\nid: 2\ndata: {\"a\":2}\n\n")
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}))
	defer srv.Close()

	sink := &eventSink{}
	r := NewReader(testStreamConfig(srv.URL), nil, 0, logger.NopLogger())
	cancel, done := runReader(t, r, sink.handle)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.Connected())
	assert.NoError(t, r.HealthCheck(context.Background()))
	assert.Equal(t, "2", r.LastEventID())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}

	events := sink.snapshot()
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, `{"a":2}`, events[1].Data)
	assert.Equal(t, StateStopped, r.State())
}

func TestReader_ReconnectsWithLastEventID(t *testing.T) {
	var connects atomic.Int32
	var resumedFrom atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		switch n {
		case 1:
			fmt.Fprint(w, "id: abc\ndata: first\n\n")
			return
		case 2:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		default:
			resumedFrom.Store(req.Header.Get("Last-Event-ID"))
			fmt.Fprint(w, "data: second\n\n")
			w.(http.Flusher).Flush()
			<-req.Context().Done()
		}
	}))
	defer srv.Close()

	sink := &eventSink{}
	r := NewReader(testStreamConfig(srv.URL), nil, 0, logger.NopLogger())
	cancel, done := runReader(t, r, sink.handle)
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, connects.Load(), int32(3))
	assert.Equal(t, "abc", resumedFrom.Load())
}

func TestReader_AlertsOnceAfterThreshold(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		connects.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := &recordingSender{}
	r := NewReader(testStreamConfig(srv.URL), sender, 3, logger.NopLogger())
	cancel, done := runReader(t, r, func(context.Context, Event) {})

	require.Eventually(t, func() bool { return connects.Load() >= 6 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, sender.count())
	assert.Contains(t, sender.texts[0], "3 consecutive failures")
	assert.False(t, r.Connected())
	assert.Error(t, r.HealthCheck(context.Background()))
}

func TestReader_IdleConnectionIsReplaced(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}))
	defer srv.Close()

	cfg := testStreamConfig(srv.URL)
	cfg.ReadTimeout = 50 * time.Millisecond
	r := NewReader(cfg, nil, 0, logger.NopLogger())
	cancel, done := runReader(t, r, func(context.Context, Event) {})

	require.Eventually(t, func() bool { return connects.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestReader_StopsWhenCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testStreamConfig(srv.URL)
	cfg.ReconnectDelay = time.Hour
	r := NewReader(cfg, nil, 0, logger.NopLogger())
	cancel, done := runReader(t, r, func(context.Context, Event) {})

	require.Eventually(t, func() bool { return r.State() == StateBackoff }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader did not stop during backoff")
	}
}

func TestReader_PropagatesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var traceparent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traceparent.Store(req.Header.Get("traceparent"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\ndata: {}\n\n")
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}))
	defer srv.Close()

	sink := &eventSink{}
	r := NewReader(testStreamConfig(srv.URL), nil, 0, logger.NopLogger())
	cancel, done := runReader(t, r, sink.handle)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.NotEmpty(t, traceparent.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "state(9)", State(9).String())
}

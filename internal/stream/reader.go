package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/internal/notification"
	apperrors "wikirelay/pkg/errors"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/retry"
	"wikirelay/pkg/tracing"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errIdleTimeout = errors.New("no data received within read timeout")

type HandlerFunc func(ctx context.Context, ev Event)

// Reader keeps one server-sent event connection open and reconnects forever after a fixed delay.
type Reader struct {
	cfg            config.StreamConfig
	client         *http.Client
	backoff        backoff.BackOff
	notifier       notification.Sender
	alertThreshold int
	logger         logger.Logger

	state       atomic.Int32
	mu          sync.Mutex
	lastEventID string
	failures    int
	alerted     bool
}

func NewReader(cfg config.StreamConfig, notifier notification.Sender, alertThreshold int, log logger.Logger) *Reader {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          1,
	}

	if notifier == nil {
		notifier = notification.NopSender{}
	}

	r := &Reader{
		cfg:            cfg,
		client:         &http.Client{Transport: tracing.HTTPTransport(transport)},
		backoff:        retry.ConstantBackoff(cfg.ReconnectDelay),
		notifier:       notifier,
		alertThreshold: alertThreshold,
		logger:         log,
	}
	r.state.Store(int32(StateConnecting))
	return r
}

func (r *Reader) State() State {
	return State(r.state.Load())
}

func (r *Reader) Connected() bool {
	return r.State() == StateStreaming
}

func (r *Reader) LastEventID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEventID
}

// HealthCheck reports an error while the reader holds no open connection.
func (r *Reader) HealthCheck(context.Context) error {
	if s := r.State(); s != StateStreaming {
		return fmt.Errorf("stream is %s", s)
	}
	return nil
}

// Run drives Connecting → Streaming → Backoff until ctx is cancelled, then returns nil.
func (r *Reader) Run(ctx context.Context, handler HandlerFunc) error {
	var conn *connection
	defer func() {
		if conn != nil {
			conn.close()
		}
		r.setState(StateStopped)
	}()

	state := StateConnecting
	for {
		if ctx.Err() != nil {
			r.logger.Infow("Stream reader stopped", "url", r.cfg.URL)
			return nil
		}
		r.setState(state)

		switch state {
		case StateConnecting:
			c, err := r.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.onFailure(ctx, err)
				state = StateBackoff
				continue
			}
			conn = c
			r.onConnected()
			state = StateStreaming

		case StateStreaming:
			err := r.consume(ctx, conn, handler)
			conn.close()
			conn = nil
			if ctx.Err() != nil {
				continue
			}
			r.onFailure(ctx, err)
			state = StateBackoff

		case StateBackoff:
			delay := r.backoff.NextBackOff()
			r.logger.Infow("Reconnecting to stream", "delay", delay, "url", r.cfg.URL)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				continue
			case <-timer.C:
			}
			metrics.IncStreamReconnect()
			state = StateConnecting
		}
	}
}

type connection struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	idle   *idleTimeoutReader
}

func (c *connection) close() {
	c.idle.stop()
	c.cancel()
	_ = c.body.Close()
}

func (r *Reader) connect(ctx context.Context) (*connection, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", constants.StreamAcceptHeader)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	if id := r.LastEventID(); id != "" {
		req.Header.Set(constants.LastEventIDHeader, id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return nil, apperrors.ErrTransport.WithCause(err)
	}

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		_ = resp.Body.Close()
		cancel()
		return nil, apperrors.ErrTransport.WithCause(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return &connection{
		body:   resp.Body,
		cancel: cancel,
		idle:   newIdleTimeoutReader(resp.Body, r.cfg.ReadTimeout, cancel),
	}, nil
}

func (r *Reader) consume(ctx context.Context, conn *connection, handler HandlerFunc) error {
	r.logger.Infow("Stream connected", "url", r.cfg.URL, "last_event_id", r.LastEventID())

	parser := NewParser(conn.idle, r.cfg.MaxEventBytes)
	for {
		ev, err := parser.Next()
		if id := parser.LastEventID(); id != "" {
			r.mu.Lock()
			r.lastEventID = id
			r.mu.Unlock()
		}
		if err != nil {
			if conn.idle.expired() {
				return errIdleTimeout
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream closed by server")
			}
			return fmt.Errorf("stream read failed: %w", err)
		}

		if ev.Type != constants.EventTypeMessage || ev.Data == "" {
			continue
		}
		handler(ctx, ev)
	}
}

func (r *Reader) onConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.alerted = false
	r.backoff.Reset()
	metrics.SetStreamConnected(true)
}

func (r *Reader) onFailure(ctx context.Context, err error) {
	metrics.SetStreamConnected(false)

	r.mu.Lock()
	r.failures++
	failures := r.failures
	shouldAlert := r.alertThreshold > 0 && failures >= r.alertThreshold && !r.alerted
	if shouldAlert {
		r.alerted = true
	}
	r.mu.Unlock()

	r.logger.Errorw("Stream connection failed",
		"error", err,
		"url", r.cfg.URL,
		"consecutive_failures", failures,
	)

	if shouldAlert {
		text := fmt.Sprintf("stream %s unavailable after %d consecutive failures: %v", r.cfg.URL, failures, err)
		if sendErr := r.notifier.SendWarning(ctx, text); sendErr != nil {
			r.logger.Warnw("Failed to send stream warning", "error", sendErr)
		}
	}
}

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
}

// idleTimeoutReader cancels the connection when no bytes arrive for timeout.
type idleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleTimeoutReader(r io.Reader, timeout time.Duration, onIdle context.CancelFunc) *idleTimeoutReader {
	i := &idleTimeoutReader{r: r, timeout: timeout}
	if timeout > 0 {
		i.timer = time.AfterFunc(timeout, func() {
			i.fired.Store(true)
			onIdle()
		})
	}
	return i
}

func (i *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 && i.timer != nil && !i.fired.Load() {
		i.timer.Reset(i.timeout)
	}
	return n, err
}

func (i *idleTimeoutReader) expired() bool {
	return i.fired.Load()
}

func (i *idleTimeoutReader) stop() {
	if i.timer != nil {
		i.timer.Stop()
	}
}

package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/circuitbreaker"
	apperrors "wikirelay/pkg/errors"
	"wikirelay/pkg/metrics"
	"wikirelay/pkg/tracing"
)

const maxResponseBytes = 4 << 20

// Enricher is what the relay needs from the translation backend.
type Enricher interface {
	Enrich(ctx context.Context, text string) string
}

type Option func(*Client)

func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithCircuitBreaker counts transport failures only; answers that parse badly still prove the endpoint is up.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(c *Client) {
		cbCfg := circuitbreaker.DefaultConfig("enrichment")
		if cfg.MaxRequests > 0 {
			cbCfg.MaxRequests = cfg.MaxRequests
		}
		if cfg.Interval > 0 {
			cbCfg.Interval = cfg.Interval
		}
		if cfg.Timeout > 0 {
			cbCfg.Timeout = cfg.Timeout
		}
		if cfg.FailureRatio > 0 {
			cbCfg.ReadyToTrip = circuitbreaker.TripOnRatio(cfg.MinRequests, cfg.FailureRatio)
		}
		cbCfg.IsSuccessful = func(err error) bool {
			return err == nil || !errors.Is(err, apperrors.ErrTransport)
		}
		cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
			c.logger.Warnw("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		}
		c.breaker = circuitbreaker.NewWrapper(cbCfg)
	}
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// Client calls an Ollama-style generate endpoint and extracts target_text from its structured answer.
type Client struct {
	url            string
	model          string
	promptTemplate string
	temperature    float64
	maxAttempts    int
	retryDelay     time.Duration

	httpClient *http.Client
	cache      Cache
	breaker    *circuitbreaker.Wrapper
	limiter    *rate.Limiter
	logger     logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.EnrichmentConfig, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		url:            cfg.URL,
		model:          cfg.Model,
		promptTemplate: cfg.PromptTemplate,
		temperature:    cfg.Temperature,
		maxAttempts:    cfg.MaxAttempts,
		retryDelay:     cfg.RetryDelay,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: tracing.HTTPTransport(nil),
		},
		logger: log,
		sleep:  sleepContext,
	}
	if c.promptTemplate == "" {
		c.promptTemplate = constants.DefaultPromptTemplate
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
	Format  json.RawMessage `json:"format"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

var responseSchema = json.RawMessage(`{"type":"object","properties":{"source_text":{"type":"string"},"target_text":{"type":"string"}},"required":["source_text","target_text"]}`)

// Enrich returns the translation of text, or "" when text is empty, the answer is empty,
// or every attempt failed. It never returns an error.
func (c *Client) Enrich(ctx context.Context, text string) string {
	if text == "" {
		c.logger.WarnwCtx(ctx, "Empty text received for enrichment")
		return ""
	}

	start := time.Now()

	if c.cache != nil {
		if cached, ok, err := c.cache.Get(ctx, text); err != nil {
			metrics.IncEnrichmentCache("error")
			c.logger.WarnwCtx(ctx, "Enrichment cache read failed", "error", err)
		} else if ok {
			metrics.IncEnrichmentCache("hit")
			metrics.IncEnrichmentCall("cache")
			return cached
		} else {
			metrics.IncEnrichmentCache("miss")
		}
	}

	state := c.run(ctx, text)

	result := "success"
	switch {
	case state.LastErr == nil:
	case ctx.Err() != nil:
		result = "cancelled"
	case state.Exhausted():
		result = "exhausted"
		c.logger.ErrorwCtx(ctx, "Enrichment failed after max attempts",
			"attempts", state.Attempt,
			"error", state.LastErr,
		)
	default:
		result = outcome(state.LastErr)
	}
	metrics.IncEnrichmentCall(result)
	metrics.ObserveEnrichmentDuration(time.Since(start), result)

	if state.Result != "" && c.cache != nil {
		if err := c.cache.Set(ctx, text, state.Result); err != nil {
			c.logger.WarnwCtx(ctx, "Enrichment cache write failed", "error", err)
		}
	}
	return state.Result
}

func (c *Client) run(ctx context.Context, text string) RetryState {
	state := NewRetryState(c.maxAttempts, c.retryDelay)

	for !state.Terminal {
		if err := c.wait(ctx); err != nil {
			state.LastErr = err
			state.Terminal = true
			break
		}

		result, err := c.attempt(ctx, text)
		metrics.IncEnrichmentAttempt(outcome(err))
		state = state.Advance(result, err)

		if err == nil {
			break
		}
		if state.Terminal {
			if !isRetryable(err) {
				c.logger.WarnwCtx(ctx, "Enrichment returned empty result", "error", err)
			}
			break
		}

		delay := state.NextDelay()
		c.logger.WarnwCtx(ctx, "Enrichment attempt failed, retrying",
			"attempt", state.Attempt,
			"max_attempts", state.MaxAttempts,
			"outcome", outcome(err),
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			state.LastErr = err
			state.Terminal = true
		}
	}
	return state
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	start := time.Now()
	err := c.limiter.Wait(ctx)
	metrics.ObserveRateLimitWait("enrichment", time.Since(start))
	return err
}

func (c *Client) attempt(ctx context.Context, text string) (string, error) {
	if c.breaker == nil {
		return c.call(ctx, text)
	}

	result, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.call(ctx, text)
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			return "", apperrors.ErrTransport.WithCause(fmt.Errorf("%w: %v", errBreakerOpen, err))
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) call(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  fmt.Sprintf(c.promptTemplate, text),
		Stream:  false,
		Options: generateOptions{Temperature: c.temperature},
		Format:  responseSchema,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", transportError("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", constants.EnrichmentContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("enrichment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", transportError("enrichment endpoint returned status: %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError("failed to read response: %w", err)
	}

	return ParseGenerateResponse(payload)
}

// ParseGenerateResponse extracts the trimmed target_text from a generate response body.
// The "response" field is itself a JSON document produced by the model.
func ParseGenerateResponse(payload []byte) (string, error) {
	var outer interface{}
	if err := json.Unmarshal(payload, &outer); err != nil {
		return "", transportError("response body is not JSON: %w", err)
	}
	fields, ok := outer.(map[string]interface{})
	if !ok {
		return "", unexpectedError("response body is %T, not an object", outer)
	}

	raw, ok := fields[constants.EnrichmentResponseField]
	if !ok {
		return "", unexpectedError("response field %q missing", constants.EnrichmentResponseField)
	}
	answer, ok := raw.(string)
	if !ok {
		return "", unexpectedError("response field is %T, not a string", raw)
	}

	var nested interface{}
	if err := json.Unmarshal([]byte(answer), &nested); err != nil {
		return "", decodeError("model answer is not JSON: %w", err)
	}
	obj, ok := nested.(map[string]interface{})
	if !ok {
		return "", unexpectedError("model answer is %T, not an object", nested)
	}

	value, present := obj[constants.TargetTextField]
	if !present {
		return "", emptyResultError("%s missing", constants.TargetTextField)
	}
	target, ok := value.(string)
	if !ok {
		return "", unexpectedError("%s is %T, not a string", constants.TargetTextField, value)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", emptyResultError("%s is empty", constants.TargetTextField)
	}
	return target, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

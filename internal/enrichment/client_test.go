package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	apperrors "wikirelay/pkg/errors"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func generateBody(answer string) string {
	b, _ := json.Marshal(map[string]interface{}{"model": "qwen3:0.6b", "response": answer, "done": true})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.EnrichmentConfig{
		URL:         srv.URL,
		Model:       constants.DefaultEnrichmentModel,
		Temperature: constants.DefaultEnrichmentTemp,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  3 * time.Second,
	}, logger.NopLogger(), opts...)

	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestClient_Enrich_Success(t *testing.T) {
	var got generateRequest
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, generateBody(`{"source_text":"Foo","target_text":"  福  "}`))
	})

	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	assert.Empty(t, rec.delays)

	assert.Equal(t, "qwen3:0.6b", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.1, got.Options.Temperature)
	assert.Contains(t, got.Prompt, "Foo")
	assert.JSONEq(t, string(responseSchema), string(got.Format))
}

func TestClient_Enrich_EmptyTextSkipsCall(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	assert.Equal(t, "", c.Enrich(context.Background(), ""))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_Enrich_RetriesWithLinearDelay(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, generateBody(`{"source_text":"Foo","target_text":"福"}`))
	})

	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, rec.delays)
}

func TestClient_Enrich_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, rec.delays)
}

func TestClient_Enrich_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(config.EnrichmentConfig{URL: url, MaxAttempts: 3, RetryDelay: time.Second, Timeout: time.Second}, logger.NopLogger())
	rec := &sleepRecorder{}
	c.sleep = rec.sleep

	assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
	assert.Len(t, rec.delays, 2)
}

func TestClient_Enrich_EmptyTargetIsTerminal(t *testing.T) {
	answers := []string{
		`{"source_text":"Foo","target_text":""}`,
		`{"source_text":"Foo","target_text":"   "}`,
		`{"source_text":"Foo"}`,
	}
	for _, answer := range answers {
		t.Run(answer, func(t *testing.T) {
			var calls atomic.Int32
			c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				fmt.Fprint(w, generateBody(answer))
			})

			assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, rec.delays)
		})
	}
}

func TestClient_Enrich_MalformedAnswerIsRetried(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			fmt.Fprint(w, generateBody(`not json`))
		case 2:
			fmt.Fprint(w, `{"done":true}`)
		default:
			fmt.Fprint(w, generateBody(`{"target_text":"福"}`))
		}
	})

	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, rec.delays, 2)
}

func TestClient_Enrich_StopsOnCancelledSleep(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Enrich_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithCircuitBreaker(config.CircuitBreakerConfig{
		MaxRequests:  1,
		Timeout:      time.Minute,
		FailureRatio: 1,
		MinRequests:  2,
	}))

	assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, c.breaker.IsOpen())

	_, err := c.attempt(context.Background(), "Foo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBreakerOpen))
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
}

func TestClient_Enrich_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, generateBody(`{"target_text":"福"}`))
	}, WithCache(NewRedisCache(rdb, constants.DefaultEnrichmentModel, time.Hour)))

	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	assert.Equal(t, int32(1), calls.Load())

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], constants.CacheKeyPrefixEnrich)
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestClient_Enrich_CacheSkipsEmptyResults(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, generateBody(`{"target_text":""}`))
	}, WithCache(NewRedisCache(rdb, constants.DefaultEnrichmentModel, time.Hour)))

	assert.Equal(t, "", c.Enrich(context.Background(), "Foo"))
	assert.Empty(t, mr.Keys())
}

func TestClient_Enrich_CacheFailureFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, generateBody(`{"target_text":"福"}`))
	}, WithCache(NewRedisCache(rdb, constants.DefaultEnrichmentModel, time.Hour)))

	assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
}

func TestClient_Enrich_RateLimited(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, generateBody(`{"target_text":"福"}`))
	}, WithRateLimit(1000, 1))

	for i := 0; i < 3; i++ {
		assert.Equal(t, "福", c.Enrich(context.Background(), "Foo"))
	}
}

func TestParseGenerateResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr *apperrors.Error
	}{
		{"ok", generateBody(`{"target_text":" 福 "}`), "福", nil},
		{"outer not json", `<html>`, "", apperrors.ErrTransport},
		{"outer array", `[1,2]`, "", apperrors.ErrUnexpected},
		{"response missing", `{"done":true}`, "", apperrors.ErrUnexpected},
		{"response number", `{"response":42}`, "", apperrors.ErrUnexpected},
		{"response null", `{"response":null}`, "", apperrors.ErrUnexpected},
		{"nested not json", generateBody(`{"target_text":`), "", apperrors.ErrDecode},
		{"nested array", generateBody(`["福"]`), "", apperrors.ErrUnexpected},
		{"target number", generateBody(`{"target_text":7}`), "", apperrors.ErrUnexpected},
		{"target missing", generateBody(`{"source_text":"Foo"}`), "", apperrors.ErrEmptyResult},
		{"target blank", generateBody(`{"target_text":"\n"}`), "", apperrors.ErrEmptyResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGenerateResponse([]byte(tt.body))
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, "", got)
		})
	}
}

func TestRetryState(t *testing.T) {
	s := NewRetryState(3, 3*time.Second)
	transient := apperrors.ErrTransport.WithCause(errors.New("refused"))

	s = s.Advance("", transient)
	assert.False(t, s.Terminal)
	assert.Equal(t, 3*time.Second, s.NextDelay())

	s = s.Advance("", transient)
	assert.False(t, s.Terminal)
	assert.Equal(t, 6*time.Second, s.NextDelay())

	s = s.Advance("", transient)
	assert.True(t, s.Terminal)
	assert.True(t, s.Exhausted())
	assert.Equal(t, "", s.Result)
	assert.Equal(t, 3, s.Attempt)

	s = NewRetryState(3, time.Second).Advance("", apperrors.ErrEmptyResult)
	assert.True(t, s.Terminal)
	assert.False(t, s.Exhausted())

	s = NewRetryState(0, time.Second).Advance("福", nil)
	assert.True(t, s.Terminal)
	assert.Equal(t, "福", s.Result)
	assert.Equal(t, 1, s.MaxAttempts)
}

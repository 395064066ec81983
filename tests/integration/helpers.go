package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
)

const (
	containerStartupTimeout = 60
	consumeTimeout          = 60 * time.Second
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestKafkaConfig(brokers []string, suffix string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:      brokers,
		ClientID:     "wikirelay-it",
		GroupID:      "wikirelay-it-" + suffix,
		InputTopic:   "wikipedia-stream-new-" + suffix,
		OutputTopic:  "wikipedia-new-translator-" + suffix,
		PollTimeout:  constants.KafkaPollTimeout,
		FlushTimeout: constants.DefaultFlushTimeout,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		},
	}
}

func createTestRelayConfig(mode string) config.RelayConfig {
	return config.RelayConfig{
		SourceField:    constants.DefaultSourceField,
		TargetField:    constants.DefaultTargetField,
		DeliveryMode:   mode,
		PollErrorDelay: 100 * time.Millisecond,
		AckTimeout:     10 * time.Second,
		DedupTTL:       time.Hour,
		Timezone:       "UTC",
	}
}

// newFakeInference answers every generate call with "<title> (zh)" and counts the calls.
func newFakeInference(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		source := req.Prompt[strings.Index(req.Prompt, "JSON: ")+len("JSON: "):]
		answer, _ := json.Marshal(map[string]string{
			"source_text": source,
			"target_text": source + " (zh)",
		})
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":    constants.DefaultEnrichmentModel,
			"response": string(answer),
			"done":     true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func createTestEnrichmentConfig(url string) config.EnrichmentConfig {
	return config.EnrichmentConfig{
		URL:            url,
		Model:          constants.DefaultEnrichmentModel,
		PromptTemplate: constants.DefaultPromptTemplate,
		Temperature:    constants.DefaultEnrichmentTemp,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     10 * time.Millisecond,
	}
}

// topicARecord builds a stage-one record with a random article title.
func topicARecord(id int) (string, []byte) {
	title := gofakeit.BookTitle()
	record := map[string]interface{}{
		"id":           id,
		"opt_type":     "new",
		"title":        title,
		"title_url":    fmt.Sprintf("https://en.wikipedia.org/wiki/%s", strings.ReplaceAll(title, " ", "_")),
		"opt_time":     "2026-03-01 04:05:06",
		"contributor":  gofakeit.Username(),
		"registration": nil,
		"gender":       "unknown",
		"edit_count":   "0",
	}
	value, _ := json.Marshal(record)
	return title, value
}

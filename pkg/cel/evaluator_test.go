package cel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirelay/pkg/models"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `wiki == "enwiki"`,
			wantError: false,
		},
		{
			name:      "valid map access",
			expr:      `event["namespace"] == 0`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.ValidateFilterExpression(`!bot && title_url.startsWith("https://en.")`))
	assert.Error(t, eval.ValidateFilterExpression(`title`))
}

func TestFilter_Match(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	title := "Go (programming language)"
	event := models.RawEvent{
		ID:       json.RawMessage(`42`),
		Type:     "new",
		Title:    &title,
		TitleURL: "https://en.wikipedia.org/wiki/Go_(programming_language)",
		Wiki:     "enwiki",
	}
	body := map[string]interface{}{
		"namespace": float64(0),
		"wiki":      "enwiki",
		"length":    map[string]interface{}{"new": float64(5120)},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"wiki match", `wiki == "enwiki"`, true},
		{"wiki mismatch", `wiki == "dewiki"`, false},
		{"not bot", `!bot`, true},
		{"title contains", `title.contains("programming")`, true},
		{"op type", `op_type == "new"`, true},
		{"nested body field", `has(event.length) && event.length["new"] > 1000.0`, true},
		{"combined", `wiki in ["enwiki", "frwiki"] && !bot`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := eval.CompileFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.Expression())

			ok, err := f.Match(context.Background(), event, body)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestFilter_MatchMissingKey(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	f, err := eval.CompileFilter(`event["server_name"] == "en.wikipedia.org"`)
	require.NoError(t, err)

	_, err = f.Match(context.Background(), models.RawEvent{}, nil)
	assert.Error(t, err)
}

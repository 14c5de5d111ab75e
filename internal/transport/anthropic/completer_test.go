package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/sightdex/internal/domain"
)

func messageServer(t *testing.T, status int, text, stop string, check func(body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"type":  "error",
				"error": map[string]any{"type": "invalid_request_error", "message": "bad model"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"model":       "claude-haiku-4-5",
			"stop_reason": stop,
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 30},
		})
	}))
}

func newTestCompleter(url string) *Completer {
	return NewCompleter(Config{APIKey: "test-key", BaseURL: url, Model: "claude-haiku-4-5"}, option.WithMaxRetries(0))
}

func TestCompleteStructured_SchemaInSystemPrompt(t *testing.T) {
	ts := messageServer(t, http.StatusOK, "```json\n{\"slug\":\"aerial\"}\n```", "end_turn", func(body map[string]any) {
		system, _ := json.Marshal(body["system"])
		assert.Contains(t, string(system), "You classify")
		assert.Contains(t, string(system), `additionalProperties`)
		assert.Equal(t, "claude-haiku-4-5", body["model"])
	})
	defer ts.Close()

	resp, err := newTestCompleter(ts.URL).CompleteStructured(context.Background(), domain.StructuredRequest{
		Name:   "detect_category",
		System: "You classify",
		Prompt: "lights",
		Schema: json.RawMessage(`{"type":"object","additionalProperties":false}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slug":"aerial"}`, string(resp.Content))
	assert.Equal(t, 120, resp.Usage.PromptTokens)
	assert.Equal(t, 150, resp.Usage.TotalTokens)
}

func TestCompleteStructured_MaxTokens(t *testing.T) {
	ts := messageServer(t, http.StatusOK, `{"slug":`, "max_tokens", nil)
	defer ts.Close()

	_, err := newTestCompleter(ts.URL).CompleteStructured(context.Background(), domain.StructuredRequest{Name: "n", Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCompletionProviderError))
}

func TestCompleteStructured_APIError(t *testing.T) {
	ts := messageServer(t, http.StatusBadRequest, "", "", nil)
	defer ts.Close()

	_, err := newTestCompleter(ts.URL).CompleteStructured(context.Background(), domain.StructuredRequest{Name: "n", Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCompletionProviderError))
}

func TestCleanJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                        `{"a":1}`,
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"Here you go: {\"a\":1} thanks.": `{"a":1}`,
		"no json":                        "no json",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanJSON(in), strings.ReplaceAll(in, "\n", `\n`))
	}
}

func TestEstimateCost(t *testing.T) {
	u := usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.estimateCost("claude-sonnet-4-5"), 1e-9)
	assert.Zero(t, u.estimateCost("unknown-model"))
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-analyzer/internal/apperr"
	"github.com/sells-group/geo-analyzer/internal/ratelimit"
	"github.com/sells-group/geo-analyzer/internal/resilience"
	"github.com/sells-group/geo-analyzer/internal/secrets"
	"github.com/sells-group/geo-analyzer/pkg/anthropic"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

type fakeBackend struct {
	calls atomic.Int32
	resp  *BackendResponse
	err   error
	last  Options
}

func (f *fakeBackend) Complete(_ context.Context, _, _ string, _ []chat.Message, opts Options) (*BackendResponse, error) {
	f.calls.Add(1)
	f.last = opts
	return f.resp, f.err
}

func userMsg(s string) []chat.Message {
	return []chat.Message{{Role: "user", Content: s}}
}

func newRegistry() *secrets.Registry {
	reg := secrets.NewRegistry()
	reg.Register("deepseek_api_key", "sk-test", secrets.WithQuota(100))
	return reg
}

func deepseekSpec() Spec {
	return Spec{
		Key:           "deepseek",
		Label:         "DeepSeek",
		SecretName:    "deepseek_api_key",
		Model:         "deepseek-chat",
		Defaults:      Options{MaxTokens: 512},
		FinishReasons: []string{"stop", "length"},
	}
}

func TestComplete_OpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 512, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"推荐 OptiStack"},"finish_reason":"length"}],"usage":{"prompt_tokens":40,"completion_tokens":45,"total_tokens":85}}`))
	}))
	defer srv.Close()

	reg := newRegistry()
	c := NewClient(deepseekSpec(), reg, ratelimit.New(5, 60), OpenAIBackend{Client: chat.NewClient(srv.URL)}, nil)

	got, err := c.Complete(context.Background(), userMsg("hi"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "推荐 OptiStack", got.Content)
	assert.Equal(t, "length", got.FinishReason)

	snap, err := reg.Snapshot("deepseek_api_key")
	require.NoError(t, err)
	assert.Equal(t, 85, snap.Usage)
	assert.Len(t, reg.DrainAlerts(), 1, "85 of 100 crosses the alert threshold")
}

func TestComplete_HTTPErrorBecomesProviderCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := NewClient(deepseekSpec(), newRegistry(), ratelimit.New(5, 60), OpenAIBackend{Client: chat.NewClient(srv.URL)}, nil)
	_, err := c.Complete(context.Background(), userMsg("hi"), Options{})
	require.Error(t, err)

	var pce *apperr.ProviderCallError
	require.True(t, errors.As(err, &pce))
	assert.Equal(t, "deepseek", pce.Provider)
	assert.Equal(t, 503, pce.StatusCode)
	assert.True(t, resilience.IsTransient(err))
	assert.True(t, apperr.IsRecoverable(err))
}

func TestComplete_RateLimitedBeforeBackend(t *testing.T) {
	fb := &fakeBackend{resp: &BackendResponse{Choices: 1, Content: "ok", FinishReason: "stop"}}
	c := NewClient(deepseekSpec(), newRegistry(), ratelimit.New(1, 1), fb, nil)

	_, err := c.Complete(context.Background(), userMsg("a"), Options{})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMsg("b"), Options{})
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	assert.True(t, apperr.IsRecoverable(err))
	assert.Equal(t, int32(1), fb.calls.Load())
}

func TestComplete_MissingSecretIsFatal(t *testing.T) {
	fb := &fakeBackend{}
	c := NewClient(deepseekSpec(), secrets.NewRegistry(), ratelimit.New(5, 60), fb, nil)

	_, err := c.Complete(context.Background(), userMsg("a"), Options{})
	assert.ErrorIs(t, err, apperr.ErrSecretNotFound)
	assert.True(t, apperr.IsFatal(err))
	assert.Zero(t, fb.calls.Load())
}

func TestComplete_ResponseValidation(t *testing.T) {
	tests := []struct {
		name    string
		resp    *BackendResponse
		wantErr string
	}{
		{"empty choices", &BackendResponse{TotalTokens: 3}, "empty choices"},
		{"abnormal finish", &BackendResponse{Choices: 1, Content: "x", FinishReason: "content_filter"}, "abnormal finish_reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(deepseekSpec(), newRegistry(), ratelimit.New(5, 60), &fakeBackend{resp: tt.resp}, nil)
			_, err := c.Complete(context.Background(), userMsg("a"), Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var pce *apperr.ProviderCallError
			assert.True(t, errors.As(err, &pce))
		})
	}
}

func TestComplete_AnyFinishReasonWithoutAllowList(t *testing.T) {
	spec := deepseekSpec()
	spec.FinishReasons = nil
	fb := &fakeBackend{resp: &BackendResponse{Choices: 1, Content: "x", FinishReason: "content_filter"}}
	c := NewClient(spec, newRegistry(), ratelimit.New(5, 60), fb, nil)

	got, err := c.Complete(context.Background(), userMsg("a"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "content_filter", got.FinishReason)
}

func TestComplete_OptionsOverrideDefaults(t *testing.T) {
	spec := deepseekSpec()
	spec.Defaults = Options{Temperature: 0.4, TopP: 0.8, MaxTokens: 512}
	fb := &fakeBackend{resp: &BackendResponse{Choices: 1, FinishReason: "stop"}}
	c := NewClient(spec, newRegistry(), ratelimit.New(5, 60), fb, nil)

	_, err := c.Complete(context.Background(), userMsg("a"), Options{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, Options{Temperature: 0.4, TopP: 0.8, MaxTokens: 64}, fb.last)
}

func TestAnthropicBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		system, _ := body["system"].([]any)
		require.Len(t, system, 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant",
			"content":     []map[string]any{{"type": "text", "text": "ArcLight"}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "max_tokens",
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	b := AnthropicBackend{Client: anthropic.NewClient(anthropic.WithBaseURL(srv.URL))}
	resp, err := b.Complete(context.Background(), "k", "claude-haiku-4-5-20251001", []chat.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "推荐产品"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Choices)
	assert.Equal(t, "ArcLight", resp.Content)
	assert.Equal(t, "length", resp.FinishReason)
	assert.Equal(t, 7, resp.TotalTokens)
}

func TestStopReason(t *testing.T) {
	assert.Equal(t, "stop", stopReason("end_turn"))
	assert.Equal(t, "stop", stopReason("stop_sequence"))
	assert.Equal(t, "length", stopReason("max_tokens"))
	assert.Equal(t, "tool_use", stopReason("tool_use"))
}

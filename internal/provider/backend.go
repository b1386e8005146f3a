package provider

import (
	"context"

	"github.com/sells-group/geo-analyzer/pkg/anthropic"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

// BackendResponse is the protocol-neutral result of one backend call.
type BackendResponse struct {
	Choices          int
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Backend speaks one wire protocol.
type Backend interface {
	Complete(ctx context.Context, apiKey, model string, messages []chat.Message, opts Options) (*BackendResponse, error)
}

// OpenAIBackend adapts an OpenAI-compatible chat client.
type OpenAIBackend struct {
	Client chat.Client
}

// Complete implements Backend.
func (b OpenAIBackend) Complete(ctx context.Context, apiKey, model string, messages []chat.Message, opts Options) (*BackendResponse, error) {
	resp, err := b.Client.ChatCompletion(ctx, apiKey, chat.Request{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	out := &BackendResponse{
		Choices:          len(resp.Choices),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Content
		out.FinishReason = resp.Choices[0].FinishReason
	}
	return out, nil
}

// AnthropicBackend adapts the Anthropic Messages API. Stop reasons are
// mapped onto OpenAI finish reasons.
type AnthropicBackend struct {
	Client anthropic.Client
}

// Complete implements Backend. A "system" message becomes the system prompt.
func (b AnthropicBackend) Complete(ctx context.Context, apiKey, model string, messages []chat.Message, opts Options) (*BackendResponse, error) {
	req := anthropic.MessageRequest{
		Model:     model,
		MaxTokens: int64(opts.MaxTokens),
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	if opts.Temperature > 0 {
		t := float64(opts.Temperature)
		req.Temperature = &t
	}
	for _, m := range messages {
		if m.Role == "system" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := b.Client.CreateMessage(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	out := &BackendResponse{
		Content:          resp.Text,
		FinishReason:     stopReason(resp.StopReason),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.Total()),
	}
	if resp.Text != "" {
		out.Choices = 1
	}
	return out, nil
}

func stopReason(r string) string {
	switch r {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return r
	}
}

func statusCode(err error) int {
	if code := chat.StatusCode(err); code != 0 {
		return code
	}
	return anthropic.StatusCode(err)
}

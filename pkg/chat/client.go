// Package chat is a thin client for OpenAI-compatible chat completion APIs
// (Doubao, DeepSeek) built on go-openai.
package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/geo-analyzer/internal/resilience"
)

const defaultTimeout = 30 * time.Second

// Client performs chat completions against one OpenAI-compatible endpoint.
// The API key is passed per request so credentials can be rotated in the
// secrets registry without rebuilding clients.
type Client interface {
	ChatCompletion(ctx context.Context, apiKey string, req Request) (*Response, error)
}

// Request is a chat completion request. Zero-valued sampling fields are
// omitted from the wire request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the decoded completion.
type Response struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   Usage
}

// Choice is one completion choice.
type Choice struct {
	Index        int
	Content      string
	FinishReason string
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Option configures the client.
type Option func(*sdkClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *sdkClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type sdkClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API rooted at endpoint. Requests go
// to {endpoint}/v1/chat/completions.
func NewClient(endpoint string, opts ...Option) Client {
	c := &sdkClient{
		baseURL: strings.TrimRight(endpoint, "/") + "/v1",
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkClient) ChatCompletion(ctx context.Context, apiKey string, req Request) (*Response, error) {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	cfg.HTTPClient = c.http
	client := openai.NewClientWithConfig(cfg)

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, classify(err)
	}

	out := &Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Index:        ch.Index,
			Content:      ch.Message.Content,
			FinishReason: string(ch.FinishReason),
		})
	}
	return out, nil
}

// StatusCode extracts the upstream HTTP status from an error returned by
// ChatCompletion, or 0 when the request never got a response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classify(err error) error {
	code := StatusCode(err)
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(eris.Wrapf(err, "chat: status %d", code), code)
	}
	if code != 0 {
		return eris.Wrapf(err, "chat: status %d", code)
	}
	return eris.Wrap(err, "chat: send request")
}

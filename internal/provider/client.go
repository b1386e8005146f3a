// Package provider wraps each third-party chat service behind a uniform
// rate-limited, credential-checked client.
package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-analyzer/internal/apperr"
	"github.com/sells-group/geo-analyzer/internal/cost"
	"github.com/sells-group/geo-analyzer/internal/ratelimit"
	"github.com/sells-group/geo-analyzer/internal/secrets"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

// Options are per-call sampling parameters. Zero values fall back to the
// provider defaults.
type Options struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

func (o Options) over(defaults Options) Options {
	if o.Temperature == 0 {
		o.Temperature = defaults.Temperature
	}
	if o.TopP == 0 {
		o.TopP = defaults.TopP
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = defaults.MaxTokens
	}
	return o
}

// Completion is a validated provider response.
type Completion struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is one configured provider.
type Client struct {
	key        string
	label      string
	secretName string
	model      string
	timeout    time.Duration
	defaults   Options
	finish     map[string]bool

	limiter *ratelimit.Bucket
	secrets *secrets.Registry
	backend Backend
	costs   *cost.Calculator
}

// Spec is the static description of a provider.
type Spec struct {
	Key           string
	Label         string
	SecretName    string
	Model         string
	Timeout       time.Duration
	Defaults      Options
	FinishReasons []string
}

// NewClient assembles a Client. costs may be nil.
func NewClient(spec Spec, reg *secrets.Registry, limiter *ratelimit.Bucket, backend Backend, costs *cost.Calculator) *Client {
	c := &Client{
		key:        spec.Key,
		label:      spec.Label,
		secretName: spec.SecretName,
		model:      spec.Model,
		timeout:    spec.Timeout,
		defaults:   spec.Defaults,
		limiter:    limiter,
		secrets:    reg,
		backend:    backend,
		costs:      costs,
	}
	if c.label == "" {
		c.label = spec.Key
	}
	if len(spec.FinishReasons) > 0 {
		c.finish = make(map[string]bool, len(spec.FinishReasons))
		for _, r := range spec.FinishReasons {
			c.finish[r] = true
		}
	}
	return c
}

// Key returns the stable provider id, e.g. "deepseek".
func (c *Client) Key() string { return c.key }

// Label returns the display name, e.g. "豆包".
func (c *Client) Label() string { return c.label }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends messages to the provider. It consumes one limiter token,
// resolves the credential, records token usage against the secret and
// validates the response. Rate limiting yields apperr.ErrRateLimited, a
// missing credential apperr.ErrSecretNotFound, everything else an
// *apperr.ProviderCallError.
func (c *Client) Complete(ctx context.Context, messages []chat.Message, opts Options) (*Completion, error) {
	if err := c.limiter.Consume(1); err != nil {
		return nil, eris.Wrapf(err, "provider %s", c.key)
	}

	apiKey, err := c.secrets.Lookup(c.secretName)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.backend.Complete(ctx, apiKey, c.model, messages, opts.over(c.defaults))
	if err != nil {
		return nil, apperr.NewProviderCallError(c.key, statusCode(err), err)
	}

	c.secrets.RecordUsage(c.secretName, resp.TotalTokens)
	c.costs.Log(c.key, c.model, resp.PromptTokens, resp.CompletionTokens)

	if resp.Choices == 0 {
		return nil, apperr.NewProviderCallError(c.key, 0, eris.New("empty choices"))
	}
	if c.finish != nil && !c.finish[resp.FinishReason] {
		return nil, apperr.NewProviderCallError(c.key, 0,
			eris.Errorf("abnormal finish_reason %q", resp.FinishReason))
	}

	return &Completion{
		Content:          resp.Content,
		FinishReason:     resp.FinishReason,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
	}, nil
}

// Package cost attributes token spend to chat providers.
package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/config"
)

// TokenRate holds USD per million tokens for one provider.
type TokenRate struct {
	Input  float64
	Output float64
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates map[string]TokenRate
}

// NewCalculator creates a Calculator with the given per-provider rates.
func NewCalculator(rates map[string]TokenRate) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the pricing section.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := make(map[string]TokenRate, len(cfg.Providers))
	for name, p := range cfg.Providers {
		rates[name] = TokenRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Tokens returns the cost of one call. Unknown providers cost 0.
func (c *Calculator) Tokens(provider string, input, output int) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates[provider]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Log records token usage and the estimated cost with structured fields.
func (c *Calculator) Log(provider, model string, input, output int) float64 {
	usd := c.Tokens(provider, input, output)
	zap.L().Debug("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("input_tokens", input),
		zap.Int("output_tokens", output),
		zap.Float64("estimated_cost_usd", usd),
	)
	return usd
}

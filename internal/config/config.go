package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Trace        TraceConfig        `yaml:"trace" mapstructure:"trace"`
	Providers    []ProviderConfig   `yaml:"providers" mapstructure:"providers"`
	Secrets      SecretsConfig      `yaml:"secrets" mapstructure:"secrets"`
	Quota        QuotaConfig        `yaml:"quota" mapstructure:"quota"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Lexicon      LexiconConfig      `yaml:"lexicon" mapstructure:"lexicon"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// OrchestratorConfig configures a diagnosis run.
type OrchestratorConfig struct {
	Iterations int           `yaml:"iterations" mapstructure:"iterations"`
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheSize  int           `yaml:"cache_size" mapstructure:"cache_size"`
	RunBudget  time.Duration `yaml:"run_budget" mapstructure:"run_budget"`
	Retry      RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures per-call retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter         float64       `yaml:"jitter" mapstructure:"jitter"`
}

// CircuitConfig configures the per-run provider breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// TraceConfig configures trace retention.
type TraceConfig struct {
	RawTTL     time.Duration `yaml:"raw_ttl" mapstructure:"raw_ttl"`
	SummaryTTL time.Duration `yaml:"summary_ttl" mapstructure:"summary_ttl"`
}

// ProviderConfig describes one chat provider. Kind selects the wire
// protocol: "openai" (OpenAI-compatible) or "anthropic".
type ProviderConfig struct {
	Key             string        `yaml:"key" mapstructure:"key"`
	Label           string        `yaml:"label" mapstructure:"label"`
	Kind            string        `yaml:"kind" mapstructure:"kind"`
	Endpoint        string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model           string        `yaml:"model" mapstructure:"model"`
	Secret          string        `yaml:"secret" mapstructure:"secret"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Temperature     float32       `yaml:"temperature" mapstructure:"temperature"`
	TopP            float32       `yaml:"top_p" mapstructure:"top_p"`
	MaxTokens       int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	FinishReasons   []string      `yaml:"finish_reasons" mapstructure:"finish_reasons"`
	Capacity        int           `yaml:"capacity" mapstructure:"capacity"`
	RefillPerMinute float64       `yaml:"refill_per_minute" mapstructure:"refill_per_minute"`
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
}

// SecretsConfig holds provider credentials. Each field is also bound to a
// bare environment variable (DOUBAO_API_KEY and so on).
type SecretsConfig struct {
	DoubaoAPIKey    string `yaml:"doubao_api_key" mapstructure:"doubao_api_key"`
	DeepSeekAPIKey  string `yaml:"deepseek_api_key" mapstructure:"deepseek_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// Credentials returns the non-empty credentials keyed by secret name.
func (s SecretsConfig) Credentials() map[string]string {
	out := make(map[string]string, 3)
	for name, v := range map[string]string{
		"doubao_api_key":    s.DoubaoAPIKey,
		"deepseek_api_key":  s.DeepSeekAPIKey,
		"anthropic_api_key": s.AnthropicAPIKey,
	} {
		if v != "" {
			out[name] = v
		}
	}
	return out
}

// QuotaConfig sets per-secret token quotas. Zero disables alerting.
type QuotaConfig struct {
	DefaultLimit int            `yaml:"default_limit" mapstructure:"default_limit"`
	Limits       map[string]int `yaml:"limits" mapstructure:"limits"`
}

// LimitFor returns the quota for a secret name.
func (q QuotaConfig) LimitFor(secret string) int {
	if l, ok := q.Limits[secret]; ok {
		return l
	}
	return q.DefaultLimit
}

// NotifyConfig configures report-update delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MonitoringConfig configures the quota alert webhook.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LexiconConfig points at an optional YAML keyword lexicon.
type LexiconConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PricingConfig holds per-provider token pricing.
type PricingConfig struct {
	Providers map[string]TokenPricing `yaml:"providers" mapstructure:"providers"`
}

// TokenPricing holds USD per million tokens.
type TokenPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// DefaultProviders is the built-in provider catalog.
func DefaultProviders() []map[string]any {
	return []map[string]any{
		{
			"key":               "deepseek",
			"label":             "DeepSeek",
			"kind":              "openai",
			"endpoint":          "https://api.deepseek.com",
			"model":             "deepseek-chat",
			"secret":            "deepseek_api_key",
			"timeout":           "30s",
			"max_tokens":        512,
			"finish_reasons":    []string{"stop", "length"},
			"capacity":          60,
			"refill_per_minute": 60,
			"enabled":           true,
		},
		{
			"key":               "doubao",
			"label":             "豆包",
			"kind":              "openai",
			"endpoint":          "https://api.doubao.com",
			"model":             "doubao-pro",
			"secret":            "doubao_api_key",
			"timeout":           "30s",
			"temperature":       0.4,
			"top_p":             0.8,
			"capacity":          60,
			"refill_per_minute": 60,
			"enabled":           true,
		},
		{
			"key":               "claude",
			"label":             "Claude",
			"kind":              "anthropic",
			"model":             "claude-haiku-4-5-20251001",
			"secret":            "anthropic_api_key",
			"timeout":           "30s",
			"max_tokens":        512,
			"capacity":          60,
			"refill_per_minute": 60,
			"enabled":           false,
		},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"secrets.doubao_api_key":    "DOUBAO_API_KEY",
		"secrets.deepseek_api_key":  "DEEPSEEK_API_KEY",
		"secrets.anthropic_api_key": "ANTHROPIC_API_KEY",
	} {
		if err := v.BindEnv(key, "GEO_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("orchestrator.iterations", 20)
	v.SetDefault("orchestrator.cache_ttl", "24h")
	v.SetDefault("orchestrator.cache_size", 4096)
	v.SetDefault("orchestrator.run_budget", "2m")
	v.SetDefault("orchestrator.retry.max_attempts", 3)
	v.SetDefault("orchestrator.retry.initial_backoff", "2s")
	v.SetDefault("orchestrator.retry.max_backoff", "30s")
	v.SetDefault("orchestrator.retry.multiplier", 2.0)
	v.SetDefault("orchestrator.retry.jitter", 0.0)
	v.SetDefault("orchestrator.circuit.failure_threshold", 3)
	v.SetDefault("trace.raw_ttl", "720h")
	v.SetDefault("trace.summary_ttl", "8760h")
	v.SetDefault("providers", DefaultProviders())
	v.SetDefault("quota.default_limit", 0)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("pricing.providers.deepseek.input", 0.27)
	v.SetDefault("pricing.providers.deepseek.output", 1.10)
	v.SetDefault("pricing.providers.doubao.input", 0.11)
	v.SetDefault("pricing.providers.doubao.output", 0.28)
	v.SetDefault("pricing.providers.claude.input", 1.00)
	v.SetDefault("pricing.providers.claude.output", 5.00)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the configuration can drive the given command
// ("diagnose" or "serve").
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Orchestrator.Iterations <= 0 {
		problems = append(problems, "orchestrator.iterations must be > 0")
	}
	if c.Trace.RawTTL <= 0 || c.Trace.SummaryTTL <= 0 {
		problems = append(problems, "trace ttls must be > 0")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch {
		case p.Key == "":
			problems = append(problems, fmt.Sprintf("providers[%d].key is required", i))
		case seen[p.Key]:
			problems = append(problems, fmt.Sprintf("providers[%d].key %q is duplicated", i, p.Key))
		}
		seen[p.Key] = true
		if p.Secret == "" {
			problems = append(problems, fmt.Sprintf("providers[%d].secret is required", i))
		}
		switch p.Kind {
		case "", "openai":
			if p.Endpoint == "" {
				problems = append(problems, fmt.Sprintf("providers[%d].endpoint is required", i))
			}
		case "anthropic":
		default:
			problems = append(problems, fmt.Sprintf("providers[%d].kind %q is unknown", i, p.Kind))
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Package orchestrator drives a diagnosis run: it probes every enabled chat
// provider with a discovery and an evaluation prompt per iteration, merges
// the answers into observations, and falls back to a deterministic offline
// run when no provider is configured.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/apperr"
	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/lexicon"
	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/internal/observability"
	"github.com/sells-group/geo-analyzer/internal/provider"
	"github.com/sells-group/geo-analyzer/internal/resilience"
	"github.com/sells-group/geo-analyzer/internal/respcache"
	"github.com/sells-group/geo-analyzer/internal/trace"
	"github.com/sells-group/geo-analyzer/pkg/chat"
)

// CacheNote is the user-facing note attached to a run that served at least
// one response from cache.
const CacheNote = "(来自缓存，已进入实时重试队列)"

// ParserVersion tags every per-call log record.
const ParserVersion = "geo-llm-parser-v1"

// DefaultRunBudget bounds one live run.
const DefaultRunBudget = 2 * time.Minute

// Provider is the capability the orchestrator needs from a chat provider.
// *provider.Client implements it.
type Provider interface {
	Key() string
	Label() string
	Complete(ctx context.Context, messages []chat.Message, opts provider.Options) (*provider.Completion, error)
}

// VirtualProvider names a provider simulated by the offline path.
type VirtualProvider struct {
	Key   string
	Label string
}

// DefaultCatalog is the offline catalog used when none is configured.
var DefaultCatalog = []VirtualProvider{
	{Key: "doubao", Label: "豆包"},
	{Key: "deepseek", Label: "DeepSeek"},
}

// Config tunes the live path.
type Config struct {
	// RunBudget bounds the whole live run. When it elapses pending backoff
	// sleeps are cancelled and further calls fail fast.
	RunBudget time.Duration
	Retry     resilience.RetryConfig
	Circuit   resilience.CircuitBreakerConfig
	// Catalog lists the providers simulated offline.
	Catalog []VirtualProvider
}

// ConfigFrom builds a Config from application configuration. The offline
// catalog is the enabled provider catalog in configuration order.
func ConfigFrom(oc config.OrchestratorConfig, providers []config.ProviderConfig) Config {
	cfg := Config{
		RunBudget: oc.RunBudget,
		Retry: resilience.FromRetryConfig(oc.Retry.MaxAttempts, oc.Retry.InitialBackoff,
			oc.Retry.MaxBackoff, oc.Retry.Multiplier, oc.Retry.Jitter),
		Circuit: resilience.FromCircuitConfig(oc.Circuit.FailureThreshold, 0),
	}
	for _, pc := range providers {
		if !pc.Enabled {
			continue
		}
		label := pc.Label
		if label == "" {
			label = pc.Key
		}
		cfg.Catalog = append(cfg.Catalog, VirtualProvider{Key: pc.Key, Label: label})
	}
	return cfg
}

// Orchestrator runs diagnoses. It is safe for concurrent use; all per-run
// state lives in the run.
type Orchestrator struct {
	providers []Provider
	catalog   []VirtualProvider
	budget    time.Duration
	retry     resilience.RetryConfig
	circuit   resilience.CircuitBreakerConfig

	lex     *lexicon.Lexicon
	cache   *respcache.Cache
	traces  *trace.Store
	metrics *observability.Metrics
}

// New creates an Orchestrator. providers may be empty, which selects the
// offline path. A nil cache or trace store gets a default one; metrics may
// be nil.
func New(
	cfg Config,
	providers []Provider,
	lex *lexicon.Lexicon,
	cache *respcache.Cache,
	traces *trace.Store,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = DefaultRunBudget
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = DefaultCatalog
	}
	cfg.Retry.ShouldRetry = apperr.IsRecoverable
	cfg.Circuit.ShouldTrip = func(err error) bool { return !apperr.IsFatal(err) }
	if lex == nil {
		lex = lexicon.Default()
	}
	if cache == nil {
		cache, _ = respcache.New(respcache.DefaultSize, respcache.DefaultTTL)
	}
	if traces == nil {
		traces = trace.NewStore(trace.DefaultRawTTL, trace.DefaultSummaryTTL)
	}
	return &Orchestrator{
		providers: providers,
		catalog:   cfg.Catalog,
		budget:    cfg.RunBudget,
		retry:     cfg.Retry,
		circuit:   cfg.Circuit,
		lex:       lex,
		cache:     cache,
		traces:    traces,
		metrics:   metrics,
	}
}

// FromSet adapts a provider set to the orchestrator's Provider list.
func FromSet(set *provider.Set) []Provider {
	clients := set.Clients()
	out := make([]Provider, 0, len(clients))
	for _, c := range clients {
		out = append(out, c)
	}
	return out
}

// Lexicon returns the keyword tables the orchestrator scores with.
func (o *Orchestrator) Lexicon() *lexicon.Lexicon {
	return o.lex
}

// Live reports whether at least one provider is configured.
func (o *Orchestrator) Live() bool {
	return len(o.providers) > 0
}

// Simulate runs iterations rounds for req. A sensitive provider response
// aborts the run with an *apperr.SensitiveContentError and no result.
// Provider failures never surface as errors: they degrade the run.
func (o *Orchestrator) Simulate(ctx context.Context, req model.DiagnosisRequest, iterations int) (*model.RunResult, error) {
	if iterations <= 0 {
		return nil, eris.Errorf("orchestrator: iterations must be positive, got %d", iterations)
	}
	start := time.Now()

	if !o.Live() {
		res := o.simulateOffline(req, iterations)
		o.metrics.Run("offline", "ok", time.Since(start))
		zap.L().Info("orchestrator: offline run complete",
			zap.String("task_id", res.TaskID),
			zap.Int("observations", len(res.Observations)),
		)
		return res, nil
	}

	res, err := o.simulateLive(ctx, req, iterations)
	switch {
	case err != nil:
		o.metrics.Run("live", "aborted", time.Since(start))
	case res.Degraded:
		o.metrics.Run("live", "degraded", time.Since(start))
	case res.HasCacheNote():
		o.metrics.Run("live", "cache_note", time.Since(start))
	default:
		o.metrics.Run("live", "ok", time.Since(start))
	}
	return res, err
}

// run is the state of one live simulation.
type run struct {
	taskID   string
	breakers *resilience.ProviderBreakers
	log      *zap.Logger
}

func (o *Orchestrator) simulateLive(ctx context.Context, req model.DiagnosisRequest, iterations int) (*model.RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	r := &run{taskID: uuid.NewString()}
	r.log = zap.L().With(zap.String("task_id", r.taskID))
	r.breakers = resilience.NewProviderBreakers(o.circuit, func(key string, from, to resilience.CircuitState) {
		o.metrics.BreakerTransition(key, to.String())
		if to == resilience.CircuitOpen {
			r.log.Warn("orchestrator: provider benched for the run", zap.String("provider", key))
		}
	})

	res := &model.RunResult{
		TaskID:   r.taskID,
		Coverage: make(map[string]bool, len(o.providers)),
	}
	for _, p := range o.providers {
		res.Coverage[p.Key()] = false
	}
	prompts := buildPrompts(req)

	for iter := 0; iter < iterations; iter++ {
		for _, p := range o.providers {
			breaker := r.breakers.Get(p.Key())
			if breaker.Tripped() {
				continue
			}

			calls := make(map[model.PromptKind]model.LLMCall, len(prompts))
			for _, pr := range prompts {
				cacheKey := respcache.Key(p.Key(), pr.text)
				call, err := o.call(ctx, r, p, pr)
				if err == nil {
					res.Coverage[p.Key()] = true
					calls[pr.kind] = call
					o.cache.Put(cacheKey, call)
					continue
				}
				if apperr.IsFatal(err) {
					r.log.Warn("orchestrator: run aborted", zap.String("provider", p.Key()), zap.Error(err))
					return nil, err
				}

				if cached, ok := o.cache.Get(cacheKey); ok {
					res.CacheNote = CacheNote
					calls[pr.kind] = cached
					o.metrics.CacheServed(p.Key())
				}
				if breaker.Tripped() {
					break
				}
			}

			if len(calls) == 0 {
				continue
			}
			res.Observations = append(res.Observations, o.merge(len(res.Observations)+1, p, calls, req))
		}

		if len(r.breakers.Tripped()) == len(o.providers) {
			r.log.Warn("orchestrator: every provider benched, stopping early", zap.Int("iteration", iter+1))
			break
		}
	}

	res.Degraded = len(res.Observations) == 0
	r.log.Info("orchestrator: live run complete",
		zap.Int("observations", len(res.Observations)),
		zap.Bool("degraded", res.Degraded),
		zap.Bool("cache_note", res.HasCacheNote()),
		zap.Strings("benched", r.breakers.Tripped()),
	)
	return res, nil
}

// call sends one prompt through the provider's breaker and retry loop. A
// breaker failure is one exhausted retry sequence.
func (o *Orchestrator) call(ctx context.Context, r *run, p Provider, pr prompt) (model.LLMCall, error) {
	key := p.Key()
	retry := o.retry
	logRetry := resilience.RetryLogger(key, string(pr.kind))
	retry.OnRetry = func(attempt int, err error) {
		logRetry(attempt, err)
		o.metrics.Retry(key)
	}

	start := time.Now()
	completion, err := resilience.ExecuteVal(ctx, r.breakers.Get(key), func(ctx context.Context) (*provider.Completion, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*provider.Completion, error) {
			if err := ctx.Err(); err != nil {
				return nil, apperr.NewProviderCallError(key, 0, eris.Wrap(err, "run budget"))
			}
			c, err := p.Complete(ctx, pr.messages(), provider.Options{})
			if err != nil {
				return nil, err
			}
			if kw, found := model.FindSensitive(c.Content); found {
				return nil, apperr.NewSensitiveContentError(key, kw)
			}
			return c, nil
		})
	})
	latency := time.Since(start)

	if err != nil {
		outcome := observability.OutcomeFailure
		if apperr.IsSensitive(err) {
			outcome = observability.OutcomeSensitive
		}
		o.metrics.ProviderCall(key, outcome, latency)
		r.log.Warn("orchestrator: provider call failed",
			zap.String("provider", key),
			zap.String("prompt_kind", string(pr.kind)),
			zap.Error(err),
		)
		return model.LLMCall{}, err
	}
	o.metrics.ProviderCall(key, observability.OutcomeSuccess, latency)

	call := model.LLMCall{
		TaskID:       r.taskID,
		Provider:     p.Label(),
		ProviderKey:  key,
		PromptKind:   pr.kind,
		PromptHash:   respcache.PromptHash(pr.text),
		Content:      completion.Content,
		FinishReason: completion.FinishReason,
		Mentions:     lexicon.Mentions(completion.Content),
		Sentiment:    o.lex.Sentiment(completion.Content),
		Latency:      latency,
	}
	o.traces.RecordRaw(call)
	r.log.Debug("orchestrator: llm call",
		zap.String("provider", key),
		zap.String("prompt_kind", string(pr.kind)),
		zap.String("prompt_hash", call.PromptHash),
		zap.Strings("mentions", call.Mentions),
		zap.Float64("sentiment", call.Sentiment),
		zap.Int("total_tokens", completion.TotalTokens),
		zap.Duration("latency", latency),
		zap.String("parser_version", ParserVersion),
	)
	return call, nil
}

// merge folds one provider's calls for an iteration into an observation.
func (o *Orchestrator) merge(seq int, p Provider, calls map[model.PromptKind]model.LLMCall, req model.DiagnosisRequest) model.Observation {
	obs := model.Observation{
		Iteration:   seq,
		Provider:    p.Label(),
		ProviderKey: p.Key(),
	}

	discovery, hasDiscovery := calls[model.PromptDiscovery]
	evaluation, hasEvaluation := calls[model.PromptEvaluation]
	if hasDiscovery {
		obs.Recommended = recommends(discovery.Content, req)
		obs.Competitor = o.pickCompetitor(discovery.Mentions, req)
	}
	switch {
	case hasEvaluation:
		obs.Sentiment = evaluation.Sentiment
	case hasDiscovery:
		obs.Sentiment = discovery.Sentiment
	}
	obs.Tag = o.lex.Tag(obs.Sentiment)
	for _, c := range calls {
		if c.Cached {
			obs.Cached = true
		}
	}
	return obs
}

func recommends(content string, req model.DiagnosisRequest) bool {
	normalized := strings.ToLower(content)
	return strings.Contains(normalized, strings.ToLower(req.ProductName)) ||
		strings.Contains(normalized, strings.ToLower(req.CompanyName))
}

// pickCompetitor returns the first mention that is not the subject itself,
// falling back to the first inline or industry competitor.
func (o *Orchestrator) pickCompetitor(mentions []string, req model.DiagnosisRequest) string {
	company := strings.ToLower(req.CompanyName)
	product := strings.ToLower(req.ProductName)
	for _, m := range mentions {
		lowered := strings.ToLower(m)
		if lowered != company && lowered != product {
			return m
		}
	}
	if inline := o.lex.InlineCompetitors(req); len(inline) > 0 {
		return inline[0]
	}
	return ""
}

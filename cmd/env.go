package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/catchup"
	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/cost"
	"github.com/sells-group/geo-analyzer/internal/lexicon"
	"github.com/sells-group/geo-analyzer/internal/monitoring"
	"github.com/sells-group/geo-analyzer/internal/notify"
	"github.com/sells-group/geo-analyzer/internal/observability"
	"github.com/sells-group/geo-analyzer/internal/orchestrator"
	"github.com/sells-group/geo-analyzer/internal/provider"
	"github.com/sells-group/geo-analyzer/internal/report"
	"github.com/sells-group/geo-analyzer/internal/respcache"
	"github.com/sells-group/geo-analyzer/internal/secrets"
	"github.com/sells-group/geo-analyzer/internal/trace"
)

// diagnosisEnv holds everything the diagnose and serve commands share.
type diagnosisEnv struct {
	Engine   *report.Engine
	Catchup  *catchup.GoExecutor
	Registry *prometheus.Registry
	Live     bool
}

// Close waits for in-flight catch-up runs.
func (de *diagnosisEnv) Close() {
	de.Catchup.Wait()
}

// registerSecrets loads every configured credential into a registry with
// its token quota.
func registerSecrets(c *config.Config) *secrets.Registry {
	reg := secrets.NewRegistry()
	for name, credential := range c.Secrets.Credentials() {
		var opts []secrets.Option
		if limit := c.Quota.LimitFor(name); limit > 0 {
			opts = append(opts, secrets.WithQuota(limit))
		}
		reg.Register(name, credential, opts...)
	}
	return reg
}

// initDiagnosis wires the provider catalog, orchestrator, report engine and
// catch-up manager from cfg. Callers should defer env.Close().
func initDiagnosis(c *config.Config, mode string) (*diagnosisEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)

	lex := lexicon.Default()
	if c.Lexicon.Path != "" {
		l, err := lexicon.Load(c.Lexicon.Path)
		if err != nil {
			return nil, err
		}
		lex = l
	}

	sec := registerSecrets(c)
	set, err := provider.Build(c.Providers, sec, cost.FromConfig(c.Pricing))
	if err != nil {
		return nil, eris.Wrap(err, "build providers")
	}

	cache, err := respcache.New(c.Orchestrator.CacheSize, c.Orchestrator.CacheTTL)
	if err != nil {
		return nil, eris.Wrap(err, "build response cache")
	}
	traces := trace.NewStore(c.Trace.RawTTL, c.Trace.SummaryTTL)

	orch := orchestrator.New(
		orchestrator.ConfigFrom(c.Orchestrator, c.Providers),
		orchestrator.FromSet(set),
		lex, cache, traces, metrics,
	)

	exec := catchup.NewGoExecutor()
	mgr := catchup.NewManager(
		catchup.NewVersions(),
		exec,
		orch,
		report.Build,
		notify.FromConfig(c.Notify),
		traces,
		metrics,
	)

	engine := report.NewEngine(
		c.Orchestrator.Iterations,
		lex,
		orch,
		mgr,
		traces,
		sec,
		monitoring.NewAlerter(c.Monitoring),
		metrics,
	)

	zap.L().Info("diagnosis environment ready",
		zap.Bool("live", orch.Live()),
		zap.Strings("providers", set.Keys()),
		zap.Int("iterations", c.Orchestrator.Iterations),
	)

	return &diagnosisEnv{
		Engine:   engine,
		Catchup:  exec,
		Registry: promReg,
		Live:     orch.Live(),
	}, nil
}

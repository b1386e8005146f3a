// Package report turns orchestrator runs into versioned diagnosis reports.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/catchup"
	"github.com/sells-group/geo-analyzer/internal/lexicon"
	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/internal/monitoring"
	"github.com/sells-group/geo-analyzer/internal/observability"
	"github.com/sells-group/geo-analyzer/internal/secrets"
	"github.com/sells-group/geo-analyzer/internal/trace"
)

// Engine produces reports. It validates the request, runs the orchestrator
// (or the industry estimation when the request asks for it), assigns the
// version, and hands cached runs to the catch-up manager.
type Engine struct {
	iterations int
	lex        *lexicon.Lexicon
	sim        catchup.Simulator
	catchup    *catchup.Manager
	traces     *trace.Store
	secrets    *secrets.Registry
	alerter    *monitoring.Alerter
	metrics    *observability.Metrics

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewEngine creates an Engine. reg, alerter and metrics may be nil.
func NewEngine(
	iterations int,
	lex *lexicon.Lexicon,
	sim catchup.Simulator,
	mgr *catchup.Manager,
	traces *trace.Store,
	reg *secrets.Registry,
	alerter *monitoring.Alerter,
	metrics *observability.Metrics,
) *Engine {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Engine{
		iterations: iterations,
		lex:        lex,
		sim:        sim,
		catchup:    mgr,
		traces:     traces,
		secrets:    reg,
		alerter:    alerter,
		metrics:    metrics,
		nowFunc:    time.Now,
	}
}

// Iterations returns the configured iteration count.
func (e *Engine) Iterations() int {
	return e.iterations
}

// Run produces the report for req. Validation and sensitive-content errors
// are returned before or instead of a report; provider failures degrade to
// the industry estimation.
func (e *Engine) Run(ctx context.Context, req model.DiagnosisRequest) (*model.Report, error) {
	req = req.Trimmed()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("company", req.CompanyName), zap.String("industry", string(req.Industry)))

	var (
		taskID  string
		metrics model.Metrics
		snap    monitoring.RunSnapshot
	)
	if e.lex.ShouldEstimate(req) {
		taskID = uuid.NewString()
		metrics = Estimate(req.Industry, e.iterations, nil)
		log.Info("report: degrade keyword found, using industry estimation")
	} else {
		res, err := e.sim.Simulate(ctx, req, e.iterations)
		if err != nil {
			return nil, err
		}
		taskID = res.TaskID
		if res.Degraded {
			metrics = Estimate(req.Industry, e.iterations, res.Coverage)
			log.Warn("report: no observations, using industry estimation", zap.String("task_id", taskID))
		} else {
			metrics = Build(req, res)
		}
		snap = monitoring.RunSnapshot{TaskID: taskID, Degraded: res.Degraded, Coverage: res.Coverage}
	}

	report := &model.Report{
		TaskID:      taskID,
		Version:     e.catchup.NextVersion(req),
		Request:     req,
		Metrics:     metrics,
		GeneratedAt: e.nowFunc().UTC(),
	}
	e.traces.RecordSummary(report.TaskID, *report)
	e.metrics.Report("initial")
	e.raiseAlerts(ctx, snap)

	if e.catchup.Schedule(ctx, *report, e.iterations) {
		log.Info("report: catch-up retry scheduled", zap.String("task_id", taskID))
	}

	log.Info("report: ready",
		zap.String("task_id", report.TaskID),
		zap.Int("report_version", report.Version),
		zap.Float64("sov_percentage", metrics.SOVPercentage),
		zap.Bool("degraded", metrics.Degraded),
	)
	return report, nil
}

func (e *Engine) raiseAlerts(ctx context.Context, snap monitoring.RunSnapshot) {
	if e.secrets != nil {
		snap.Quota = e.secrets.DrainAlerts()
	}
	for _, q := range snap.Quota {
		e.metrics.QuotaAlert(q.Name)
	}
	if e.alerter == nil {
		return
	}
	alerts := e.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}
	sent := e.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("report: alerts raised", zap.Int("alerts", len(alerts)), zap.Int("sent", sent))
}

// Trace returns everything retained for taskID.
func (e *Engine) Trace(taskID string) trace.Trace {
	return e.traces.Get(taskID)
}

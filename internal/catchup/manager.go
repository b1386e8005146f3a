// Package catchup versions reports per request identity and re-runs a
// diagnosis in the background when its report was built from cached
// provider responses.
package catchup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/internal/notify"
	"github.com/sells-group/geo-analyzer/internal/observability"
)

// Simulator re-runs a diagnosis. *orchestrator.Orchestrator implements it.
type Simulator interface {
	Simulate(ctx context.Context, req model.DiagnosisRequest, iterations int) (*model.RunResult, error)
}

// MetricsBuilder turns a fresh run into report metrics.
type MetricsBuilder func(req model.DiagnosisRequest, res *model.RunResult) model.Metrics

// SummaryRecorder keeps the summary of a published report.
// *trace.Store implements it.
type SummaryRecorder interface {
	RecordSummary(taskID string, payload any)
}

// Manager issues report versions and schedules catch-up runs.
type Manager struct {
	versions *Versions
	exec     Executor
	sim      Simulator
	build    MetricsBuilder
	notifier notify.Notifier
	summary  SummaryRecorder
	metrics  *observability.Metrics

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewManager creates a Manager. summary and metrics may be nil.
func NewManager(
	versions *Versions,
	exec Executor,
	sim Simulator,
	build MetricsBuilder,
	notifier notify.Notifier,
	summary SummaryRecorder,
	metrics *observability.Metrics,
) *Manager {
	return &Manager{
		versions: versions,
		exec:     exec,
		sim:      sim,
		build:    build,
		notifier: notifier,
		summary:  summary,
		metrics:  metrics,
		nowFunc:  time.Now,
	}
}

// Versions returns the version counters.
func (m *Manager) Versions() *Versions {
	return m.versions
}

// NextVersion issues the next report version for req's identity.
func (m *Manager) NextVersion(req model.DiagnosisRequest) int {
	return m.versions.Next(IdentityKey(req))
}

// Schedule submits a catch-up run for a report that carries a cache note.
// It returns false, without submitting, when the report has no cache note
// or a run for the same identity is already in flight.
//
// The job re-runs the diagnosis. A degraded result, a result that again
// used the cache, or any error ends the job silently. Otherwise the job
// publishes the next version and notifies. The pending mark is always
// cleared when the job ends.
func (m *Manager) Schedule(ctx context.Context, report model.Report, iterations int) bool {
	if report.Metrics.CacheNote == "" {
		return false
	}
	key := IdentityKey(report.Request)
	if !m.versions.claim(key) {
		zap.L().Debug("catchup: retry already pending", zap.String("task_id", report.TaskID))
		return false
	}

	ctx = context.WithoutCancel(ctx)
	m.exec.Submit(func() {
		defer m.versions.release(key)
		m.run(ctx, key, report, iterations)
	})
	return true
}

func (m *Manager) run(ctx context.Context, key string, prev model.Report, iterations int) {
	log := zap.L().With(zap.String("previous_task_id", prev.TaskID))

	res, err := m.sim.Simulate(ctx, prev.Request, iterations)
	if err != nil {
		log.Info("catchup: retry run failed", zap.Error(err))
		return
	}
	if res.Degraded || res.HasCacheNote() {
		log.Info("catchup: retry run not live",
			zap.Bool("degraded", res.Degraded),
			zap.Bool("cache_note", res.HasCacheNote()),
		)
		return
	}

	metrics := m.build(prev.Request, res)
	metrics.CacheNote = ""
	report := model.Report{
		TaskID:      res.TaskID,
		Version:     m.versions.Next(key),
		Request:     prev.Request,
		Metrics:     metrics,
		GeneratedAt: m.nowFunc().UTC(),
	}
	if m.summary != nil {
		m.summary.RecordSummary(report.TaskID, report)
	}
	m.metrics.Report("catchup")

	if err := m.notifier.SendReportUpdate(ctx, report); err != nil {
		log.Error("catchup: report update not delivered",
			zap.String("task_id", report.TaskID),
			zap.Error(err),
		)
		return
	}
	log.Info("catchup: fresher report published",
		zap.String("task_id", report.TaskID),
		zap.Int("report_version", report.Version),
	)
}

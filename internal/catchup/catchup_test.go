package catchup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-analyzer/internal/apperr"
	"github.com/sells-group/geo-analyzer/internal/model"
	"github.com/sells-group/geo-analyzer/internal/notify"
)

type fakeSimulator struct {
	calls atomic.Int32
	res   *model.RunResult
	err   error
}

func (f *fakeSimulator) Simulate(_ context.Context, _ model.DiagnosisRequest, _ int) (*model.RunResult, error) {
	f.calls.Add(1)
	return f.res, f.err
}

// queueExecutor holds jobs until Drain is called.
type queueExecutor struct {
	mu   sync.Mutex
	jobs []func()
}

func (q *queueExecutor) Submit(job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *queueExecutor) Drain() {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, j := range jobs {
		j()
	}
}

type recorder struct {
	mu      sync.Mutex
	payload map[string]any
}

func (r *recorder) RecordSummary(taskID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payload == nil {
		r.payload = make(map[string]any)
	}
	r.payload[taskID] = payload
}

func testRequest() model.DiagnosisRequest {
	return model.DiagnosisRequest{
		CompanyName:        "Acme",
		ProductName:        "Rocket",
		ProductDescription: "面向企业的旗舰智能数据平台",
		Industry:           model.IndustrySaaS,
		WorkEmail:          "Ops@Acme.io",
	}
}

func liveResult() *model.RunResult {
	return &model.RunResult{
		TaskID: "fresh-task",
		Observations: []model.Observation{
			{Iteration: 1, ProviderKey: "deepseek", Recommended: true, Sentiment: 0.2},
			{Iteration: 2, ProviderKey: "deepseek", Sentiment: -0.3},
		},
		Coverage: map[string]bool{"deepseek": true},
	}
}

func buildMetrics(_ model.DiagnosisRequest, res *model.RunResult) model.Metrics {
	return model.Metrics{
		SOVPercentage: 50,
		NegativeRate:  50,
		Coverage:      res.Coverage,
		CacheNote:     res.CacheNote,
	}
}

func cachedReport(m *Manager) model.Report {
	req := testRequest()
	return model.Report{
		TaskID:  "first-task",
		Version: m.NextVersion(req),
		Request: req,
		Metrics: model.Metrics{CacheNote: "(来自缓存，已进入实时重试队列)"},
	}
}

func newManager(exec Executor, sim Simulator) (*Manager, *notify.MemoryNotifier, *recorder) {
	n := notify.NewMemoryNotifier()
	rec := &recorder{}
	return NewManager(NewVersions(), exec, sim, buildMetrics, n, rec, nil), n, rec
}

func TestIdentityKey_Normalizes(t *testing.T) {
	a := testRequest()
	b := testRequest()
	b.CompanyName = "  ＡＣＭＥ  "
	b.ProductName = "ROCKET"
	b.ProductDescription = "面向企业的旗舰智能数据平台\n"
	b.WorkEmail = " ops@acme.IO "
	assert.Equal(t, IdentityKey(a), IdentityKey(b))

	c := testRequest()
	c.WorkEmail = "other@acme.io"
	assert.NotEqual(t, IdentityKey(a), IdentityKey(c))

	d := testRequest()
	d.ProductDescription = "面向企业的 旗舰智能数据平台"
	assert.NotEqual(t, IdentityKey(a), IdentityKey(d))
}

func TestIdentityKey_CollapsesWhitespace(t *testing.T) {
	a := testRequest()
	a.ProductDescription = "enterprise   data\tplatform"
	b := testRequest()
	b.ProductDescription = "Enterprise data platform"
	assert.Equal(t, IdentityKey(a), IdentityKey(b))
}

func TestVersions_Next(t *testing.T) {
	v := NewVersions()
	assert.Equal(t, 0, v.Current("k"))
	assert.Equal(t, 1, v.Next("k"))
	assert.Equal(t, 2, v.Next("k"))
	assert.Equal(t, 1, v.Next("other"))
	assert.Equal(t, 2, v.Current("k"))
}

func TestVersions_ConcurrentNext(t *testing.T) {
	v := NewVersions()
	var wg sync.WaitGroup
	seen := make([]int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = v.Next("k")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, v.Current("k"))
	unique := make(map[int]bool)
	for _, n := range seen {
		unique[n] = true
	}
	assert.Len(t, unique, 100, "every version is issued once")
}

func TestSchedule_NoCacheNote(t *testing.T) {
	sim := &fakeSimulator{res: liveResult()}
	m, n, _ := newManager(InlineExecutor{}, sim)

	ok := m.Schedule(context.Background(), model.Report{Request: testRequest()}, 4)
	assert.False(t, ok)
	assert.Zero(t, sim.calls.Load())
	assert.Empty(t, n.Sent())
}

func TestSchedule_PublishesFresherVersion(t *testing.T) {
	sim := &fakeSimulator{res: liveResult()}
	m, n, rec := newManager(InlineExecutor{}, sim)

	first := cachedReport(m)
	require.Equal(t, 1, first.Version)

	assert.True(t, m.Schedule(context.Background(), first, 4))
	assert.Equal(t, int32(1), sim.calls.Load())

	sent := n.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].ReportVersion)
	assert.Equal(t, "fresh-task", sent[0].TaskID)
	assert.Equal(t, "Ops@Acme.io", sent[0].ToEmail)
	assert.Equal(t, 50.0, sent[0].Metrics["sov_percentage"])

	key := IdentityKey(first.Request)
	assert.Equal(t, 2, m.Versions().Current(key))
	assert.False(t, m.Versions().Pending(key))

	published, ok := rec.payload["fresh-task"].(model.Report)
	require.True(t, ok)
	assert.Empty(t, published.Metrics.CacheNote)
	assert.Equal(t, 2, published.Version)
}

func TestSchedule_SilentOutcomes(t *testing.T) {
	tests := []struct {
		name string
		sim  *fakeSimulator
	}{
		{"degraded", &fakeSimulator{res: &model.RunResult{TaskID: "t", Degraded: true}}},
		{"cache note again", &fakeSimulator{res: func() *model.RunResult {
			r := liveResult()
			r.CacheNote = "(来自缓存，已进入实时重试队列)"
			return r
		}()}},
		{"sensitive", &fakeSimulator{err: apperr.NewSensitiveContentError("deepseek", "暴力")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, n, rec := newManager(InlineExecutor{}, tt.sim)
			first := cachedReport(m)

			assert.True(t, m.Schedule(context.Background(), first, 4))
			assert.Empty(t, n.Sent())
			assert.Empty(t, rec.payload)

			key := IdentityKey(first.Request)
			assert.Equal(t, 1, m.Versions().Current(key))
			assert.False(t, m.Versions().Pending(key), "pending mark cleared on every outcome")
		})
	}
}

func TestSchedule_DedupesInFlight(t *testing.T) {
	sim := &fakeSimulator{res: liveResult()}
	q := &queueExecutor{}
	m, n, _ := newManager(q, sim)
	first := cachedReport(m)
	key := IdentityKey(first.Request)

	assert.True(t, m.Schedule(context.Background(), first, 4))
	assert.True(t, m.Versions().Pending(key))
	assert.False(t, m.Schedule(context.Background(), first, 4), "second retry for the same identity is dropped")

	q.Drain()
	assert.Equal(t, int32(1), sim.calls.Load())
	assert.Len(t, n.Sent(), 1)
	assert.False(t, m.Versions().Pending(key))

	assert.True(t, m.Schedule(context.Background(), first, 4))
	q.Drain()
	assert.Equal(t, 3, m.Versions().Current(key))
}

func TestSchedule_SurvivesCallerCancel(t *testing.T) {
	sim := &fakeSimulator{res: liveResult()}
	q := &queueExecutor{}
	m, n, _ := newManager(q, sim)

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, m.Schedule(ctx, cachedReport(m), 4))
	cancel()

	q.Drain()
	assert.Len(t, n.Sent(), 1)
}

func TestGoExecutor(t *testing.T) {
	e := NewGoExecutor()
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		e.Submit(func() { ran.Add(1) })
	}
	e.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestInlineExecutor(t *testing.T) {
	ran := false
	InlineExecutor{}.Submit(func() { ran = true })
	assert.True(t, ran)
}

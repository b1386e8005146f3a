// Package trace retains per-task raw provider responses and report
// summaries for a bounded time.
package trace

import (
	"sync"
	"time"

	"github.com/sells-group/geo-analyzer/internal/model"
)

const (
	// DefaultRawTTL is the retention of raw provider responses.
	DefaultRawTTL = 30 * 24 * time.Hour
	// DefaultSummaryTTL is the retention of report summaries.
	DefaultSummaryTTL = 365 * 24 * time.Hour
)

// RawEntry is one live provider response.
type RawEntry struct {
	Call       model.LLMCall `json:"call"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// SummaryEntry is one report summary.
type SummaryEntry struct {
	Payload    any       `json:"payload"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Trace is everything still retained for a task.
type Trace struct {
	TaskID  string        `json:"task_id"`
	Raw     []RawEntry    `json:"raw"`
	Summary *SummaryEntry `json:"summary"`
}

// Empty reports whether nothing is retained.
func (t Trace) Empty() bool {
	return len(t.Raw) == 0 && t.Summary == nil
}

// Store is an in-memory trace store guarded by a single mutex. Expired
// entries are pruned when a task is read.
type Store struct {
	mu         sync.Mutex
	raw        map[string][]RawEntry
	summary    map[string]SummaryEntry
	rawTTL     time.Duration
	summaryTTL time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewStore creates a Store. Non-positive TTLs use the defaults.
func NewStore(rawTTL, summaryTTL time.Duration) *Store {
	if rawTTL <= 0 {
		rawTTL = DefaultRawTTL
	}
	if summaryTTL <= 0 {
		summaryTTL = DefaultSummaryTTL
	}
	return &Store{
		raw:        make(map[string][]RawEntry),
		summary:    make(map[string]SummaryEntry),
		rawTTL:     rawTTL,
		summaryTTL: summaryTTL,
		nowFunc:    time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
	return s
}

// RecordRaw appends a live call under its task id.
func (s *Store) RecordRaw(call model.LLMCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[call.TaskID] = append(s.raw[call.TaskID], RawEntry{
		Call:       call,
		RecordedAt: s.nowFunc(),
	})
}

// RecordSummary replaces the summary for taskID.
func (s *Store) RecordSummary(taskID string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary[taskID] = SummaryEntry{
		Payload:    payload,
		RecordedAt: s.nowFunc(),
	}
}

// Get prunes expired entries for taskID and returns a copy of the rest.
// An entry whose age equals the TTL is kept.
func (s *Store) Get(taskID string) Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()

	var raw []RawEntry
	for _, e := range s.raw[taskID] {
		if now.Sub(e.RecordedAt) <= s.rawTTL {
			raw = append(raw, e)
		}
	}
	if len(raw) == 0 {
		delete(s.raw, taskID)
	} else {
		s.raw[taskID] = raw
	}

	tr := Trace{TaskID: taskID, Raw: append([]RawEntry(nil), raw...)}
	if sum, ok := s.summary[taskID]; ok {
		if now.Sub(sum.RecordedAt) <= s.summaryTTL {
			tr.Summary = &sum
		} else {
			delete(s.summary, taskID)
		}
	}
	return tr
}

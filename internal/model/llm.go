package model

import "time"

// PromptKind identifies which of the two per-iteration prompts produced a call.
type PromptKind string

const (
	PromptDiscovery  PromptKind = "discovery"
	PromptEvaluation PromptKind = "evaluation"
)

// LLMCall is a single live or cache-served provider response. It is never
// mutated after creation; cache reuse produces a copy with Cached set.
type LLMCall struct {
	TaskID       string        `json:"task_id"`
	Provider     string        `json:"provider"`
	ProviderKey  string        `json:"provider_key"`
	PromptKind   PromptKind    `json:"prompt_kind"`
	PromptHash   string        `json:"prompt_hash"`
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason"`
	Mentions     []string      `json:"mentions"`
	Sentiment    float64       `json:"sentiment"`
	Cached       bool          `json:"cached"`
	Latency      time.Duration `json:"latency"`
}

// AsCached returns a copy of c marked as served from cache.
func (c LLMCall) AsCached() LLMCall {
	c.Cached = true
	c.Mentions = append([]string(nil), c.Mentions...)
	return c
}

// Observation is the merged result of one provider in one iteration.
type Observation struct {
	Iteration   int     `json:"iteration"`
	Provider    string  `json:"provider"`
	ProviderKey string  `json:"provider_key"`
	Recommended bool    `json:"recommended"`
	Competitor  string  `json:"competitor,omitempty"`
	Sentiment   float64 `json:"sentiment"`
	Tag         string  `json:"tag"`
	Cached      bool    `json:"cached"`
}

// RunResult is the unit returned by one orchestrator run.
type RunResult struct {
	TaskID       string          `json:"task_id"`
	Observations []Observation   `json:"observations"`
	Coverage     map[string]bool `json:"coverage"`
	CacheNote    string          `json:"cache_note,omitempty"`
	Degraded     bool            `json:"degraded"`
}

// HasCacheNote reports whether any observation was served from stale cache.
func (r *RunResult) HasCacheNote() bool {
	return r != nil && r.CacheNote != ""
}

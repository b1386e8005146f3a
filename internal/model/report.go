package model

import "time"

// EstimationNote marks metrics produced by the industry estimation model.
const EstimationNote = "Based on Industry Estimation"

// DefaultPositiveTag labels observations without negative sentiment.
const DefaultPositiveTag = "体验顺畅"

// Snapshot is the running SOV and negative rate after a given iteration.
type Snapshot struct {
	Iteration    int     `json:"iteration"`
	SOVProgress  float64 `json:"sov_progress"`
	NegativeRate float64 `json:"negative_rate"`
}

// Metrics summarizes a run for the reporting layer.
type Metrics struct {
	SOVPercentage       float64         `json:"sov_percentage"`
	RecommendationCount int             `json:"recommendation_count"`
	NegativeRate        float64         `json:"negative_rate"`
	NegativeTags        []string        `json:"negative_tags"`
	Competitors         map[string]int  `json:"competitors"`
	Coverage            map[string]bool `json:"coverage"`
	CacheNote           string          `json:"cache_note,omitempty"`
	Degraded            bool            `json:"degraded"`
	EstimationNote      string          `json:"estimation_note,omitempty"`
	Snapshots           []Snapshot      `json:"snapshots"`
}

// Report is a versioned diagnosis result for one identity.
type Report struct {
	TaskID      string           `json:"task_id"`
	Version     int              `json:"report_version"`
	Request     DiagnosisRequest `json:"-"`
	Metrics     Metrics          `json:"metrics"`
	GeneratedAt time.Time        `json:"generated_at"`
}

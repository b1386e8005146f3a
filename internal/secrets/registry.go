// Package secrets holds provider credentials and tracks their quota usage.
package secrets

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/apperr"
)

// AlertThreshold is the fraction of quota at which a usage alert fires.
const AlertThreshold = 0.8

// Record is a registered credential and its usage counters.
type Record struct {
	Credential string
	QuotaLimit int
	ExpiresAt  time.Time
	Usage      int
	Alerted    bool
}

// Alert is raised the first time usage crosses AlertThreshold of the quota.
type Alert struct {
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Usage      int       `json:"usage"`
	QuotaLimit int       `json:"quota_limit"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Option configures a registered secret.
type Option func(*Record)

// WithQuota sets the quota limit in tokens. Zero disables alerting.
func WithQuota(limit int) Option {
	return func(r *Record) {
		r.QuotaLimit = limit
	}
}

// WithExpiry records when the credential expires.
func WithExpiry(t time.Time) Option {
	return func(r *Record) {
		r.ExpiresAt = t
	}
}

// Registry is a concurrency-safe credential store. Every operation runs
// under a single lock.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	alerts  []Alert
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register stores (or replaces) a credential under name with zeroed usage.
func (r *Registry) Register(name, credential string, opts ...Option) {
	rec := &Record{Credential: credential}
	for _, o := range opts {
		o(rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = rec
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[name]
	return ok
}

// Lookup returns the credential registered under name.
func (r *Registry) Lookup(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return "", eris.Wrapf(apperr.ErrSecretNotFound, "secrets: %q", name)
	}
	return rec.Credential, nil
}

// Revoke removes name. Revoking an unknown name is a no-op.
func (r *Registry) Revoke(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, name)
}

// RecordUsage adds tokens to name's usage. The first time usage reaches
// AlertThreshold of a non-zero quota an alert is queued; it does not fire
// again until ResetUsage is called.
func (r *Registry) RecordUsage(name string, tokens int) {
	if tokens <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return
	}
	rec.Usage += tokens
	if rec.QuotaLimit <= 0 || rec.Alerted {
		return
	}
	if float64(rec.Usage) >= float64(rec.QuotaLimit)*AlertThreshold {
		rec.Alerted = true
		r.alerts = append(r.alerts, Alert{
			Name:       name,
			Message:    "API Key usage exceeded 80% of quota",
			Usage:      rec.Usage,
			QuotaLimit: rec.QuotaLimit,
			ExpiresAt:  rec.ExpiresAt,
		})
		zap.L().Warn("secrets: quota threshold crossed",
			zap.String("name", name),
			zap.Int("usage", rec.Usage),
			zap.Int("quota_limit", rec.QuotaLimit),
		)
	}
}

// ResetUsage zeroes name's usage and re-arms its quota alert.
func (r *Registry) ResetUsage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[name]; ok {
		rec.Usage = 0
		rec.Alerted = false
	}
}

// DrainAlerts returns all queued alerts and clears the queue.
func (r *Registry) DrainAlerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	alerts := r.alerts
	r.alerts = nil
	return alerts
}

// Snapshot returns a copy of name's record.
func (r *Registry) Snapshot(name string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return Record{}, eris.Wrapf(apperr.ErrSecretNotFound, "secrets: %q", name)
	}
	return *rec, nil
}

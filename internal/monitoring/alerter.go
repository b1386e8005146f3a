// Package monitoring turns quota and run-health signals into webhook alerts.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/secrets"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQuotaThreshold AlertType = "quota_threshold"
	AlertDegradedRun    AlertType = "degraded_run"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunSnapshot is what one diagnosis run reports to monitoring.
type RunSnapshot struct {
	TaskID string
	// Quota holds the quota alerts drained from the secrets registry.
	Quota []secrets.Alert
	// Degraded is set when a live run produced no observations.
	Degraded bool
	Coverage map[string]bool
}

// Alerter evaluates run snapshots and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts a snapshot raises.
func (a *Alerter) Evaluate(snap RunSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, q := range snap.Quota {
		details := map[string]any{
			"secret":      q.Name,
			"usage":       q.Usage,
			"quota_limit": q.QuotaLimit,
		}
		if !q.ExpiresAt.IsZero() {
			details["expires_at"] = q.ExpiresAt
		}
		alerts = append(alerts, Alert{
			Type:     AlertQuotaThreshold,
			Severity: "medium",
			Message: fmt.Sprintf("%s: %s (%d / %d tokens)",
				q.Name, q.Message, q.Usage, q.QuotaLimit),
			Details:   details,
			Timestamp: now,
		})
	}

	if snap.Degraded {
		var unreached []string
		for name, ok := range snap.Coverage {
			if !ok {
				unreached = append(unreached, name)
			}
		}
		sort.Strings(unreached)
		alerts = append(alerts, Alert{
			Type:     AlertDegradedRun,
			Severity: "high",
			Message: fmt.Sprintf("Diagnosis %s degraded to industry estimation: %d provider(s) unreachable",
				snap.TaskID, len(unreached)),
			Details: map[string]any{
				"task_id":     snap.TaskID,
				"unreachable": unreached,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

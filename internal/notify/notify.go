// Package notify delivers report-update messages once a catch-up run has
// produced a fresher report version.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/model"
)

// Subject is the subject line of every report-update message.
const Subject = "最新实时结果已准备就绪"

const defaultTimeout = 10 * time.Second

// Notifier sends report updates. Delivery is at most once.
type Notifier interface {
	SendReportUpdate(ctx context.Context, report model.Report) error
}

// Message is the rendered report update.
type Message struct {
	ToEmail       string             `json:"to_email"`
	Subject       string             `json:"subject"`
	Body          string             `json:"body"`
	ReportVersion int                `json:"report_version"`
	TaskID        string             `json:"task_id"`
	Metrics       map[string]float64 `json:"metrics"`
}

// NewMessage renders the update message for report.
func NewMessage(report model.Report) Message {
	sov := report.Metrics.SOVPercentage
	neg := report.Metrics.NegativeRate
	return Message{
		ToEmail: report.Request.WorkEmail,
		Subject: Subject,
		Body: fmt.Sprintf("最新实时结果已生成。报告版本 v%d，SOV %s%% / 负面 %s%%。",
			report.Version, formatPercent(sov), formatPercent(neg)),
		ReportVersion: report.Version,
		TaskID:        report.TaskID,
		Metrics: map[string]float64{
			"sov_percentage": sov,
			"negative_rate":  neg,
		},
	}
}

// formatPercent prints whole numbers with one decimal ("45.0") and
// anything else at its shortest precision ("33.33").
func formatPercent(f float64) string {
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MemoryNotifier keeps messages in memory.
type MemoryNotifier struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryNotifier creates an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// SendReportUpdate implements Notifier.
func (n *MemoryNotifier) SendReportUpdate(_ context.Context, report model.Report) error {
	msg := NewMessage(report)
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
	zap.L().Info("notify: report update queued",
		zap.String("task_id", msg.TaskID),
		zap.Int("report_version", msg.ReportVersion),
	)
	return nil
}

// Sent returns a copy of every message sent so far.
func (n *MemoryNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// WebhookNotifier posts each message as JSON to a webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// SendReportUpdate implements Notifier.
func (n *WebhookNotifier) SendReportUpdate(ctx context.Context, report model.Report) error {
	msg := NewMessage(report)
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Info("notify: report update sent",
		zap.String("task_id", msg.TaskID),
		zap.Int("report_version", msg.ReportVersion),
	)
	return nil
}

// FromConfig returns a WebhookNotifier when a webhook is configured and a
// MemoryNotifier otherwise.
func FromConfig(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return NewMemoryNotifier()
	}
	return NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout)
}

package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-analyzer/internal/config"
	"github.com/sells-group/geo-analyzer/internal/secrets"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(RunSnapshot{
		TaskID:   "task-1",
		Coverage: map[string]bool{"deepseek": true},
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Quota(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	alerts := a.Evaluate(RunSnapshot{
		Quota: []secrets.Alert{{
			Name:       "doubao_api_key",
			Message:    "API Key usage exceeded 80% of quota",
			Usage:      90,
			QuotaLimit: 100,
			ExpiresAt:  expiry,
		}},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQuotaThreshold, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "90 / 100")
	assert.Equal(t, expiry, alerts[0].Details["expires_at"])
}

func TestAlerter_Evaluate_DegradedRun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(RunSnapshot{
		TaskID:   "task-9",
		Degraded: true,
		Coverage: map[string]bool{"doubao": false, "deepseek": false},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDegradedRun, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "task-9")
	assert.Equal(t, []string{"deepseek", "doubao"}, alerts[0].Details["unreachable"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertQuotaThreshold, Severity: "medium", Message: "test alert 1"},
		{Type: AlertDegradedRun, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertQuotaThreshold, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertQuotaThreshold, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

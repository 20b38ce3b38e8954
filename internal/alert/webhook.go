package alert

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
)

// WebhookPayload is the POST body sent when an alert triggers
type WebhookPayload struct {
	Event     string           `json:"event"`
	AlertID   string           `json:"alertId"`
	AlertName string           `json:"alertName"`
	Timestamp time.Time        `json:"timestamp"`
	Condition WebhookCondition `json:"condition"`
	Query     WebhookQuery     `json:"query"`
}

// WebhookCondition describes the comparison that held
type WebhookCondition struct {
	Column      string  `json:"column"`
	Operator    string  `json:"operator"`
	Threshold   float64 `json:"threshold"`
	ActualValue float64 `json:"actualValue"`
}

// WebhookQuery identifies the saved query behind the alert
type WebhookQuery struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WebhookNotifier POSTs trigger payloads to alert webhooks
type WebhookNotifier struct {
	client *http.Client
}

// NewWebhookNotifier creates a notifier with the given request timeout
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{client: &http.Client{Timeout: timeout}}
}

// Notify POSTs the payload with the alert's custom headers
func (n *WebhookNotifier) Notify(ctx context.Context, alert *models.Alert, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, alert.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range alert.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Newf(errors.ErrorTypeConnection, "webhook returned status %d", resp.StatusCode)
	}
	return nil
}

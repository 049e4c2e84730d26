package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

// WebhookConfig holds webhook channel configuration.
type WebhookConfig struct {
	URL     string            // endpoint receiving the alert payload
	Headers map[string]string // extra headers (e.g., Authorization)
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") && !strings.HasPrefix(c.URL, "http://") {
		return fmt.Errorf("webhook URL must be http or https")
	}
	return nil
}

// WebhookNotifier POSTs the alert as JSON to a configured endpoint, for
// integration with SIEM and ticketing systems.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Recipients returns the endpoint URL as the single audit recipient.
func (w *WebhookNotifier) Recipients(_ *models.Alert) []string {
	return []string{w.config.URL}
}

// webhookPayload is the JSON document sent to the endpoint.
type webhookPayload struct {
	AlertID            string                  `json:"alert_id"`
	UserID             string                  `json:"user_id"`
	Timestamp          time.Time               `json:"timestamp"`
	EventType          string                  `json:"event_type"`
	Severity           string                  `json:"severity"`
	AnomalyScore       float64                 `json:"anomaly_score"`
	Event              *models.Event           `json:"event,omitempty"`
	DetectionDetails   models.DetectionDetails `json:"detection_details"`
	UserContext        models.UserContext      `json:"user_context"`
	RecommendedActions []string                `json:"recommended_actions"`
}

// Send POSTs the alert to the configured URL. Any non-2xx response is an
// error.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	payload := webhookPayload{
		AlertID:            alert.ID,
		UserID:             alert.UserID(),
		Timestamp:          alert.Timestamp,
		EventType:          string(alert.TriggeringEventType()),
		Severity:           string(alert.Severity),
		AnomalyScore:       alert.AnomalyScore,
		Event:              alert.Event,
		DetectionDetails:   alert.DetectionDetails,
		UserContext:        alert.UserContext,
		RecommendedActions: alert.RecommendedActions,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for the webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

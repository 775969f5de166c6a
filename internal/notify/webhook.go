package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/domain"
)

// WebhookSender posts SMS and WhatsApp messages to a gateway that owns carrier delivery.
type WebhookSender struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

type webhookPayload struct {
	Channel  domain.NotificationChannel `json:"channel"`
	To       string                     `json:"to"`
	Template string                     `json:"template"`
	Body     string                     `json:"body"`
}

// NewWebhookSender returns nil when url is empty.
func NewWebhookSender(url string, timeout time.Duration, logger *zap.Logger) *WebhookSender {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

// SendText posts a rendered text message.
func (w *WebhookSender) SendText(ctx context.Context, channel domain.NotificationChannel, to, template, body string) error {
	if w == nil {
		return fmt.Errorf("notify: webhook not configured")
	}
	payload, err := json.Marshal(webhookPayload{Channel: channel, To: to, Template: template, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	w.logger.Debug("text sent via webhook", zap.String("channel", string(channel)), zap.String("to", to))
	return nil
}

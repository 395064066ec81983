package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/metrics"
)

// Sender delivers operator warnings. Implementations must be safe to call from any goroutine.
type Sender interface {
	SendWarning(ctx context.Context, text string) error
}

func NewSender(cfg config.NotificationConfig, serviceName string, log logger.Logger) Sender {
	switch cfg.Type {
	case constants.NotifierTypeWebhook:
		return NewWebhookSender(cfg.WebhookURL, serviceName, cfg.Timeout, log)
	default:
		return NopSender{}
	}
}

type NopSender struct{}

func (NopSender) SendWarning(context.Context, string) error {
	return nil
}

// WebhookSender posts a chat-bot style text message: {"msgtype":"text","text":{"content":...}}.
type WebhookSender struct {
	url         string
	serviceName string
	client      *http.Client
	logger      logger.Logger
	now         func() time.Time
}

func NewWebhookSender(url, serviceName string, timeout time.Duration, log logger.Logger) *WebhookSender {
	return &WebhookSender{
		url:         url,
		serviceName: serviceName,
		client:      &http.Client{Timeout: timeout},
		logger:      log,
		now:         time.Now,
	}
}

type textMessage struct {
	MsgType string      `json:"msgtype"`
	Text    textContent `json:"text"`
}

type textContent struct {
	Content string `json:"content"`
}

func (w *WebhookSender) SendWarning(ctx context.Context, text string) error {
	content := w.now().Format(constants.TimeLayout) + "\n" + w.serviceName + "\n" + text

	body, err := json.Marshal(textMessage{MsgType: "text", Text: textContent{Content: content}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.IncNotification("webhook", "error")
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		metrics.IncNotification("webhook", "error")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.IncNotification("webhook", "success")
	w.logger.Infow("Warning notification sent", "service_name", w.serviceName)
	return nil
}

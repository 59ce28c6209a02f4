package notification

import (
	"context"
	"log"
	"time"
)

// WebhookNotifier POSTs each alert as a flat JSON document.
type WebhookNotifier struct {
	url string
	jsonPoster
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, jsonPoster: newJSONPoster("webhook")}
}

type webhookDoc struct {
	Source  string     `json:"source"`
	Level   AlertLevel `json:"level"`
	Subject string     `json:"subject,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TS      string     `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	doc := webhookDoc{
		Source:  "backtester",
		Level:   alert.Level,
		Subject: alert.Subject,
		Title:   alert.Title,
		Message: alert.Message,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := w.post(ctx, w.url, doc); err != nil {
		return err
	}
	log.Printf("[webhook] delivered %s alert for %q", alert.Level, alert.Subject)
	return nil
}

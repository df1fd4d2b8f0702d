// Package notify delivers operational notices about documents: routing
// fallback alerts, low-confidence review requests, dead-lettered work.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notice is a human-facing message about one document.
type Notice struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Severity   string            `json:"severity"`
	DocType    string            `json:"doc_type,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Channel delivers notices to one transport.
type Channel interface {
	Send(ctx context.Context, n *Notice) error
	Type() string
}

// WebhookChannel posts notices as JSON to an HTTP endpoint.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

func (w *WebhookChannel) Send(ctx context.Context, n *Notice) error {
	payload := map[string]interface{}{
		"document_id": n.DocumentID,
		"title":       n.Title,
		"body":        n.Body,
		"severity":    n.Severity,
		"doc_type":    n.DocType,
		"fields":      n.Fields,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DocFlow-Notify/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// SlackChannel posts notices to Slack through an incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Timeout    time.Duration
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *SlackChannel) Type() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, n *Notice) error {
	fields := []map[string]interface{}{
		{
			"title": "Document",
			"value": n.DocumentID,
			"short": true,
		},
		{
			"title": "Severity",
			"value": n.Severity,
			"short": true,
		},
	}
	if n.DocType != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Type",
			"value": n.DocType,
			"short": true,
		})
	}
	for k, v := range n.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	attachment := map[string]interface{}{
		"color":  s.severityColor(n.Severity),
		"fields": fields,
		"footer": "DocFlow",
		"ts":     time.Now().Unix(),
	}
	if n.Body != "" {
		attachment["text"] = n.Body
	}

	payload := map[string]interface{}{
		"text":        fmt.Sprintf("📄 %s", n.Title),
		"attachments": []map[string]interface{}{attachment},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (s *SlackChannel) severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#8B0000"
	case "high":
		return "#FF0000"
	case "medium":
		return "#FFA500"
	case "low":
		return "#FFFF00"
	case "info":
		return "#0000FF"
	default:
		return "#808080"
	}
}

// LogChannel writes notices to logs (for testing/debugging).
type LogChannel struct {
	logger func(format string, v ...interface{})
}

// NewLogChannel creates a log-based notification channel.
func NewLogChannel(logger func(format string, v ...interface{})) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, n *Notice) error {
	l.logger("NOTICE: %s (document=%s, severity=%s)", n.Title, n.DocumentID, n.Severity)
	return nil
}

// MultiChannel fans one notice out to several channels. Delivery counts
// as successful if at least one channel accepted it.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel creates a notification channel that fans out to multiple channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Type() string {
	return "multi"
}

func (m *MultiChannel) Send(ctx context.Context, n *Notice) error {
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(ctx, n); err != nil {
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			successCount++
		}
	}

	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all notification channels failed: %w", lastErr)
	}

	return nil
}

package destinations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docflow-systems/docflow-stack/common/models"
)

// Webhook posts classified documents as JSON to a downstream system's
// ingestion endpoint.
type Webhook struct {
	name    string
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhook creates a webhook destination. name distinguishes multiple
// webhook targets in routing rules and metrics.
func NewWebhook(name, url string, timeout time.Duration) *Webhook {
	return &Webhook{
		name:    name,
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *Webhook) Name() string {
	return w.name
}

func (w *Webhook) Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error {
	payload := map[string]interface{}{
		"document_id": doc.DocumentID,
		"filename":    doc.Filename,
		"doc_type":    doc.DocType,
		"confidence":  doc.Confidence,
		"summary":     doc.Summary,
		"entities":    doc.Entities,
		"sender":      doc.Sender,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("webhook %s: create request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DocFlow-Router/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: send: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: returned status %d", w.name, resp.StatusCode)
	}

	return nil
}

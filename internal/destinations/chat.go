package destinations

import (
	"context"
	"fmt"
	"time"

	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/notify"
)

// Chat posts classified documents to a Slack-compatible webhook. It is
// the routing target for documents needing a human decision.
type Chat struct {
	channel *notify.SlackChannel
}

// NewChat creates the chat destination.
func NewChat(webhookURL string, timeout time.Duration) *Chat {
	return &Chat{
		channel: notify.NewSlackChannel(webhookURL, timeout),
	}
}

func (c *Chat) Name() string {
	return "chat"
}

func (c *Chat) Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error {
	severity := "info"
	title := fmt.Sprintf("Document routed: %s", doc.Filename)
	body := doc.Summary

	if doc.DocType == "NEEDS_HUMAN_REVIEW" {
		severity = "high"
		title = fmt.Sprintf("Review needed: %s", doc.Filename)
		body = fmt.Sprintf("Classification confidence %.2f is below threshold. %s", doc.Confidence, doc.Summary)
	}

	notice := &notify.Notice{
		DocumentID: doc.DocumentID,
		Title:      title,
		Body:       body,
		Severity:   severity,
		DocType:    doc.DocType,
		Fields: map[string]string{
			"Confidence": fmt.Sprintf("%.2f", doc.Confidence),
			"Sender":     doc.Sender,
		},
	}
	if doc.IsVIP {
		notice.Fields["VIP"] = doc.VIPLevel
	}

	if err := c.channel.Send(ctx, notice); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

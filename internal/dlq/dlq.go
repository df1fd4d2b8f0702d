// Package dlq records permanently rejected documents on a dead-letter
// stream for operator inspection.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/internal/pool"
)

// FailedDocument is the dead-letter entry payload.
type FailedDocument struct {
	Timestamp  time.Time `json:"timestamp"`
	DocumentID string    `json:"document_id"`
	Stage      string    `json:"stage"`
	Tier       string    `json:"tier"`
	Payload    []byte    `json:"payload"`
	Error      string    `json:"error"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
}

// Writer records failed documents.
type Writer interface {
	Write(ctx context.Context, doc *FailedDocument) error
}

// QueueWriter publishes dead-letter entries through the shared connection
// pool onto the DLQ stream. Safe across pipeline instances.
type QueueWriter struct {
	pool   *pool.Pool
	logger *logging.Logger
}

// NewQueueWriter creates a DLQ writer over the connection pool.
func NewQueueWriter(connPool *pool.Pool, logger *logging.Logger) *QueueWriter {
	return &QueueWriter{pool: connPool, logger: logger}
}

// Write appends one failed document. Subject format: docs.dlq.<reason>.
func (w *QueueWriter) Write(ctx context.Context, doc *FailedDocument) error {
	if w == nil || doc == nil {
		return nil
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	conn, err := w.pool.Checkout(ctx)
	if err != nil {
		return fmt.Errorf("dlq checkout: %w", err)
	}
	defer w.pool.Return(conn)

	if err := conn.PublishDurable(ctx, messaging.DLQSubject(doc.Reason), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	w.logger.InfoContext(ctx, "document dead-lettered",
		logging.DocumentID(doc.DocumentID),
		logging.Stage(doc.Stage),
		logging.Status(doc.Reason),
	)
	return nil
}

// NopWriter discards entries. Used when the DLQ is disabled.
type NopWriter struct{}

func (NopWriter) Write(context.Context, *FailedDocument) error { return nil }

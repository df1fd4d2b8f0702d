// Package ingestor accepts document uploads, scores their priority and
// publishes them onto the extraction stage's tier queues.
package ingestor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
	"github.com/docflow-systems/docflow-stack/internal/pool"
	"github.com/docflow-systems/docflow-stack/internal/priority"
)

// Upload is one document handed to the service.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
	Sender      string
	Source      string
	UrgencyText string
}

// Receipt is returned to the uploader.
type Receipt struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
}

// Service publishes uploads into the pipeline.
type Service struct {
	pool    *pool.Pool
	emitter audit.Emitter
	logger  *logging.Logger
}

// NewService creates the ingest service.
func NewService(connPool *pool.Pool, emitter audit.Emitter, logger *logging.Logger) *Service {
	return &Service{
		pool:    connPool,
		emitter: emitter,
		logger:  logger,
	}
}

// Ingest assigns the document an ID and a priority tier, then publishes
// it durably to the extract stage. Every outcome leaves an audit event:
// "Ingested" on success, "Ingestion Failed" otherwise.
func (s *Service) Ingest(ctx context.Context, up *Upload) (*Receipt, error) {
	docID := uuid.New().String()
	ctx = logging.WithDocumentID(ctx, docID)

	tier, reason := priority.Classify(priority.ItemMetadata{
		Sender:      up.Sender,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		Size:        int64(len(up.Content)),
		UrgencyText: up.UrgencyText,
	})

	env := &models.IngestEnvelope{
		DocumentID:     docID,
		Filename:       up.Filename,
		ContentType:    up.ContentType,
		Payload:        up.Content,
		PriorityScore:  tier.String(),
		PriorityReason: reason,
		Sender:         up.Sender,
		Source:         up.Source,
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.failed(ctx, docID, up, err)
		return nil, fmt.Errorf("ingest %s: marshal envelope: %w", up.Filename, err)
	}

	if err := s.publish(ctx, messaging.StageSubject(models.StageExtract, tier.String()), data); err != nil {
		s.failed(ctx, docID, up, err)
		return nil, fmt.Errorf("ingest %s: publish: %w", up.Filename, err)
	}

	metrics.DocumentsIngested.WithLabelValues(up.Source, tier.String()).Inc()
	metrics.IngestBytesTotal.Add(float64(len(up.Content)))

	s.emitter.Emit(ctx, &models.StatusEvent{
		DocumentID: docID,
		Status:     models.StatusIngested,
		Details: map[string]interface{}{
			"filename":        up.Filename,
			"content_type":    up.ContentType,
			"source":          up.Source,
			"sender":          up.Sender,
			"priority":        tier.String(),
			"priority_reason": reason,
			"size_bytes":      len(up.Content),
			// Kept so a reprocess request can rebuild the envelope
			// without a separate blob store.
			"file_content": base64.StdEncoding.EncodeToString(up.Content),
		},
	})

	s.logger.InfoContext(ctx, "document ingested",
		logging.DocumentID(docID),
		logging.Tier(tier.String()),
		logging.Sender(up.Sender),
	)

	return &Receipt{
		DocumentID: docID,
		Filename:   up.Filename,
		Priority:   tier.String(),
		Status:     "published",
	}, nil
}

func (s *Service) publish(ctx context.Context, subject string, data []byte) error {
	conn, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Return(conn)

	return conn.PublishDurable(ctx, subject, data)
}

func (s *Service) failed(ctx context.Context, docID string, up *Upload, err error) {
	s.logger.ErrorContext(ctx, "ingestion failed",
		logging.DocumentID(docID),
		logging.Error(err),
	)
	s.emitter.Emit(ctx, &models.StatusEvent{
		DocumentID: docID,
		Status:     models.StatusIngestionFailed,
		Details: map[string]interface{}{
			"filename": up.Filename,
			"error":    err.Error(),
		},
	})
}

package dedup

import (
	"context"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

// Processor wraps a stage processor with duplicate suppression. A document
// already claimed at this stage is acknowledged without reprocessing.
// Dedup failures fall open: at-least-once delivery is the contract and a
// Redis outage must never stall the pipeline.
type Processor struct {
	inner  pipeline.Processor
	dedup  Deduper
	logger *logging.Logger
}

// NewProcessor wraps inner with duplicate suppression.
func NewProcessor(inner pipeline.Processor, dedup Deduper, logger *logging.Logger) *Processor {
	return &Processor{
		inner:  inner,
		dedup:  dedup,
		logger: logger,
	}
}

// Process claims the (stage, document) pair before running the inner
// processor. Redeliveries pass straight through: a requeued attempt
// already holds the claim from its first delivery.
func (p *Processor) Process(ctx context.Context, item *pipeline.WorkItem) *pipeline.Result {
	if item.Attempt <= 1 {
		seen, err := p.dedup.Seen(ctx, item.Stage, item.DocumentID)
		if err != nil {
			p.logger.WarnContext(ctx, "dedup check failed, processing anyway",
				logging.DocumentID(item.DocumentID),
				logging.Stage(item.Stage),
				logging.Error(err),
			)
		} else if seen {
			p.logger.InfoContext(ctx, "duplicate document skipped",
				logging.DocumentID(item.DocumentID),
				logging.Stage(item.Stage),
			)
			return &pipeline.Result{
				Success: true,
				Status:  models.StatusDuplicateSkipped,
				Details: map[string]interface{}{"stage": item.Stage},
			}
		}
	}

	return p.inner.Process(ctx, item)
}

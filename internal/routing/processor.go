package routing

import (
	"context"

	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

// Processor adapts the router to the pipeline's final stage. Routing has
// no downstream queue: settlement ends the document's journey.
type Processor struct {
	router *Router
}

// NewProcessor creates the route-stage processor.
func NewProcessor(router *Router) *Processor {
	return &Processor{router: router}
}

func (p *Processor) Process(ctx context.Context, item *pipeline.WorkItem) *pipeline.Result {
	doc, err := models.DecodeClassify(item.Payload)
	if err != nil {
		return pipeline.Failed(models.StatusRoutingFailed, pipeline.Permanent(err))
	}

	out, err := p.router.Route(ctx, doc)
	if err != nil {
		// Destinations and the alert channel are external systems;
		// give them another chance later.
		return pipeline.Failed(models.StatusRoutingFailed, pipeline.Transient(err))
	}

	confidence := doc.Confidence
	return &pipeline.Result{
		Success: true,
		Status:  models.StatusRouted,
		Details: map[string]interface{}{
			"destination": out.Destination,
			"fell_back":   out.FellBack,
		},
		DocType:    doc.DocType,
		Confidence: &confidence,
	}
}

// Package destinations implements the delivery targets the router can
// send classified documents to.
package destinations

import (
	"context"

	"github.com/docflow-systems/docflow-stack/common/models"
)

// Destination delivers a classified document to one downstream system.
// Deliver must be safe for concurrent use; the router calls it from
// multiple tier pools.
type Destination interface {
	Name() string
	Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error
}

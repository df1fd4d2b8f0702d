package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/destinations"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
	"github.com/docflow-systems/docflow-stack/internal/notify"
)

// AlertDestination is the outcome name recorded when every configured
// destination failed and the document was handed to a human.
const AlertDestination = "alert"

// Outcome records how a document was routed.
type Outcome struct {
	// Destination is the name of the destination that accepted the
	// document, or AlertDestination if the whole chain failed.
	Destination string

	// FellBack is true when the first destination in the chain did not
	// take the document.
	FellBack bool

	// Attempted lists destinations tried, in order.
	Attempted []string
}

// Router delivers classified documents down their fallback chain. Each
// destination in a chain is attempted at most once per document; when the
// chain is exhausted, an operator alert is the terminal fallback and its
// failure is the only error Route returns.
type Router struct {
	table   *Table
	dests   map[string]destinations.Destination
	alert   notify.Channel
	logger  *logging.Logger
	timeout time.Duration

	mu        sync.RWMutex
	unhealthy map[string]bool
}

// NewRouter builds a router over the given destination set.
func NewRouter(table *Table, dests []destinations.Destination, alert notify.Channel, logger *logging.Logger, deliverTimeout time.Duration) *Router {
	byName := make(map[string]destinations.Destination, len(dests))
	for _, d := range dests {
		byName[d.Name()] = d
	}
	return &Router{
		table:     table,
		dests:     byName,
		alert:     alert,
		logger:    logger,
		timeout:   deliverTimeout,
		unhealthy: make(map[string]bool),
	}
}

// Healthy reports the last known health of a destination. Unknown
// destinations are assumed healthy.
func (r *Router) Healthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.unhealthy[name]
}

func (r *Router) markHealth(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if healthy {
		delete(r.unhealthy, name)
	} else {
		r.unhealthy[name] = true
	}
}

// Route delivers doc along its chain. A destination marked unhealthy is
// skipped while later candidates remain; the last candidate is always
// attempted so a recovered destination can prove itself again.
func (r *Router) Route(ctx context.Context, doc *models.ClassifyEnvelope) (*Outcome, error) {
	chain := r.table.Chain(doc.DocType)
	out := &Outcome{}

	for i, name := range chain {
		dest, ok := r.dests[name]
		if !ok {
			r.logger.WarnContext(ctx, "routing rule names unknown destination",
				logging.DocumentID(doc.DocumentID),
				logging.DocType(doc.DocType),
				logging.Destination(name),
			)
			continue
		}

		last := i == len(chain)-1
		if !r.Healthy(name) && !last {
			r.logger.DebugContext(ctx, "skipping unhealthy destination",
				logging.DocumentID(doc.DocumentID),
				logging.Destination(name),
			)
			continue
		}

		out.Attempted = append(out.Attempted, name)
		if err := r.deliver(ctx, dest, doc); err != nil {
			r.markHealth(name, false)
			metrics.Deliveries.WithLabelValues(name, "failure").Inc()
			r.logger.WarnContext(ctx, "delivery failed, trying next destination",
				logging.DocumentID(doc.DocumentID),
				logging.Destination(name),
				logging.Error(err),
			)
			continue
		}

		r.markHealth(name, true)
		metrics.Deliveries.WithLabelValues(name, "success").Inc()
		out.Destination = name
		out.FellBack = i > 0
		return out, nil
	}

	// Chain exhausted: a human is the last destination standing.
	if err := r.sendAlert(ctx, doc, out.Attempted); err != nil {
		metrics.Deliveries.WithLabelValues(AlertDestination, "failure").Inc()
		return nil, fmt.Errorf("route %s: all destinations failed and alert undeliverable: %w", doc.DocumentID, err)
	}

	metrics.FallbackAlerts.Inc()
	metrics.Deliveries.WithLabelValues(AlertDestination, "success").Inc()
	out.Destination = AlertDestination
	out.FellBack = true
	return out, nil
}

func (r *Router) deliver(ctx context.Context, dest destinations.Destination, doc *models.ClassifyEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return dest.Deliver(ctx, doc)
}

func (r *Router) sendAlert(ctx context.Context, doc *models.ClassifyEnvelope, attempted []string) error {
	notice := &notify.Notice{
		DocumentID: doc.DocumentID,
		Title:      fmt.Sprintf("Routing failed for %s", doc.Filename),
		Body:       fmt.Sprintf("No destination accepted the document after %d attempts; manual handling required.", len(attempted)),
		Severity:   "critical",
		DocType:    doc.DocType,
		Fields: map[string]string{
			"Attempted": fmt.Sprintf("%v", attempted),
		},
	}
	return r.alert.Send(ctx, notice)
}

// Package audit emits and stores document lifecycle events. The audit trail
// is a log, not a state table: events are append-only, written once and
// never updated.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
	"github.com/docflow-systems/docflow-stack/internal/pool"
)

// Emitter publishes status events to the broadcast channel. Emission is
// best-effort: it never blocks the pipeline and never propagates errors.
type Emitter interface {
	Emit(ctx context.Context, ev *models.StatusEvent)
}

// Publisher emits status events over a pooled broker connection.
type Publisher struct {
	pool    *pool.Pool
	logger  *logging.Logger
	timeout time.Duration
}

// NewPublisher creates a status publisher. timeout bounds each emit,
// including the pool checkout.
func NewPublisher(connPool *pool.Pool, logger *logging.Logger, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{
		pool:    connPool,
		logger:  logger,
		timeout: timeout,
	}
}

// Emit publishes the event on the status subject, fire-and-forget. Failures
// are logged and counted; they never reach the caller.
func (p *Publisher) Emit(ctx context.Context, ev *models.StatusEvent) {
	if ev == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Details == nil {
		ev.Details = map[string]interface{}{}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		metrics.AuditEmitFailures.Inc()
		p.logger.ErrorContext(ctx, "marshal status event",
			logging.DocumentID(ev.DocumentID), logging.Error(err))
		return
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	conn, err := p.pool.Checkout(emitCtx)
	if err != nil {
		metrics.AuditEmitFailures.Inc()
		p.logger.WarnContext(ctx, "status emit skipped: no broker connection",
			logging.DocumentID(ev.DocumentID), logging.Error(err))
		return
	}
	defer p.pool.Return(conn)

	if err := conn.Publish(emitCtx, messaging.SubjectStatus, data); err != nil {
		metrics.AuditEmitFailures.Inc()
		p.logger.WarnContext(ctx, "status emit failed",
			logging.DocumentID(ev.DocumentID), logging.Error(err))
		return
	}

	metrics.AuditEventsEmitted.WithLabelValues(ev.Status).Inc()
	p.logger.DebugContext(ctx, "status event published",
		logging.DocumentID(ev.DocumentID), logging.Status(ev.Status))
}

// NopEmitter discards every event. Used where audit output is not wired.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, *models.StatusEvent) {}

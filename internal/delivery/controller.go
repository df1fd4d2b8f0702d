// Package delivery implements the per-message settlement state machine:
// acknowledge after downstream publish succeeds, requeue on transient
// failures, terminate on permanent ones.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/dlq"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
	"github.com/docflow-systems/docflow-stack/internal/pool"
)

// State is the settlement outcome for one delivery attempt.
// Acked and Dead are terminal; Requeued means the broker will redeliver.
type State int

const (
	StateRequeued State = iota
	StateAcked
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAcked:
		return "acked"
	case StateDead:
		return "dead"
	default:
		return "requeued"
	}
}

// Controller settles work-queue deliveries based on processing results.
type Controller struct {
	pool     *pool.Pool
	emitter  audit.Emitter
	dlq      dlq.Writer
	logger   *logging.Logger
	nakDelay time.Duration
}

// NewController creates a delivery controller. nakDelay spaces out
// redeliveries after transient failures.
func NewController(connPool *pool.Pool, emitter audit.Emitter, deadLetters dlq.Writer, logger *logging.Logger, nakDelay time.Duration) *Controller {
	if deadLetters == nil {
		deadLetters = dlq.NopWriter{}
	}
	return &Controller{
		pool:     connPool,
		emitter:  emitter,
		dlq:      deadLetters,
		logger:   logger,
		nakDelay: nakDelay,
	}
}

// RejectMalformed permanently rejects a message that could not be decoded.
// Malformed input cannot repair itself, so it is never requeued. One
// failure audit event is emitted when the document ID is recoverable.
func (c *Controller) RejectMalformed(ctx context.Context, msg messaging.Delivery, stage, tier string, decodeErr error) State {
	c.logger.WarnContext(ctx, "rejecting undecodable message",
		logging.Stage(stage),
		logging.Tier(tier),
		logging.Error(decodeErr),
	)

	if err := c.dlq.Write(ctx, &dlq.FailedDocument{
		Stage:    stage,
		Tier:     tier,
		Payload:  msg.Data(),
		Error:    decodeErr.Error(),
		Reason:   "malformed",
		Attempts: msg.Attempt(),
	}); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter write failed", logging.Error(err))
	}

	if err := msg.Term(); err != nil {
		c.logger.ErrorContext(ctx, "terminate failed", logging.Error(err))
	}

	metrics.MessagesProcessed.WithLabelValues(stage, tier, "malformed").Inc()
	return StateDead
}

// Settle drives one message from RECEIVED to a settlement:
//
//	success + downstream publish OK  -> Ack   (terminal, audit success)
//	downstream publish failure       -> Nak   (requeue, transient)
//	permanent processing failure     -> Term  (terminal, audit failure, DLQ)
//	transient processing failure     -> Nak   (requeue)
//
// Unclassified failures are treated as permanent: the processor owns the
// taxonomy and anything it did not flag retryable stays failed.
func (c *Controller) Settle(ctx context.Context, msg messaging.Delivery, item *pipeline.WorkItem, res *pipeline.Result) State {
	if res.Success {
		return c.settleSuccess(ctx, msg, item, res)
	}

	if errors.Is(res.Err, pipeline.ErrTransient) {
		c.logger.WarnContext(ctx, "transient failure, requeueing",
			logging.DocumentID(item.DocumentID),
			logging.Stage(item.Stage),
			logging.Attempt(item.Attempt),
			logging.Error(res.Err),
		)
		c.nak(ctx, msg)
		metrics.MessagesProcessed.WithLabelValues(item.Stage, item.Tier, "requeued").Inc()
		return StateRequeued
	}

	return c.settleDead(ctx, msg, item, res)
}

func (c *Controller) settleSuccess(ctx context.Context, msg messaging.Delivery, item *pipeline.WorkItem, res *pipeline.Result) State {
	if len(res.Output) > 0 {
		if err := c.publishDownstream(ctx, res.NextSubject, res.Output); err != nil {
			// Broker trouble is transient by definition: requeue and
			// let the next attempt publish again.
			c.logger.WarnContext(ctx, "downstream publish failed, requeueing",
				logging.DocumentID(item.DocumentID),
				logging.Stage(item.Stage),
				logging.Queue(res.NextSubject),
				logging.Attempt(item.Attempt),
				logging.Error(err),
			)
			c.nak(ctx, msg)
			metrics.MessagesProcessed.WithLabelValues(item.Stage, item.Tier, "requeued").Inc()
			return StateRequeued
		}
	}

	if err := msg.Ack(); err != nil {
		// The work is done and published; a failed ack only risks a
		// redelivery, which at-least-once delivery already permits.
		c.logger.WarnContext(ctx, "ack failed after successful processing",
			logging.DocumentID(item.DocumentID), logging.Error(err))
	}

	c.emitter.Emit(ctx, c.event(item, res))
	metrics.MessagesProcessed.WithLabelValues(item.Stage, item.Tier, "acked").Inc()
	return StateAcked
}

func (c *Controller) settleDead(ctx context.Context, msg messaging.Delivery, item *pipeline.WorkItem, res *pipeline.Result) State {
	c.logger.WarnContext(ctx, "permanent failure, terminating",
		logging.DocumentID(item.DocumentID),
		logging.Stage(item.Stage),
		logging.Attempt(item.Attempt),
		logging.Error(res.Err),
	)

	if err := c.dlq.Write(ctx, &dlq.FailedDocument{
		DocumentID: item.DocumentID,
		Stage:      item.Stage,
		Tier:       item.Tier,
		Payload:    item.Payload,
		Error:      res.Err.Error(),
		Reason:     "permanent",
		Attempts:   item.Attempt,
	}); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter write failed",
			logging.DocumentID(item.DocumentID), logging.Error(err))
	}

	if err := msg.Term(); err != nil {
		c.logger.ErrorContext(ctx, "terminate failed",
			logging.DocumentID(item.DocumentID), logging.Error(err))
	}

	c.emitter.Emit(ctx, c.event(item, res))
	metrics.MessagesProcessed.WithLabelValues(item.Stage, item.Tier, "dead").Inc()
	return StateDead
}

func (c *Controller) publishDownstream(ctx context.Context, subject string, data []byte) error {
	conn, err := c.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Return(conn)

	return conn.PublishDurable(ctx, subject, data)
}

func (c *Controller) nak(ctx context.Context, msg messaging.Delivery) {
	if err := msg.Nak(c.nakDelay); err != nil {
		c.logger.ErrorContext(ctx, "nak failed", logging.Error(err))
	}
}

// event builds the single terminal audit event for this attempt.
func (c *Controller) event(item *pipeline.WorkItem, res *pipeline.Result) *models.StatusEvent {
	details := res.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	details["attempt"] = item.Attempt
	details["tier"] = item.Tier

	return &models.StatusEvent{
		DocumentID: item.DocumentID,
		Status:     res.Status,
		Details:    details,
		DocType:    res.DocType,
		Confidence: res.Confidence,
	}
}

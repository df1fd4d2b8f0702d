// Package statusd runs the audit sink: it drains the broadcast status
// channel into the append-only Postgres event store and serves the
// document history API over HTTP.
package statusd

import (
	"context"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/metrics"
)

// EventStore is the slice of the audit store the subscriber needs.
type EventStore interface {
	Insert(ctx context.Context, ev *models.StatusEvent) error
}

// Subscriber writes every status event to the store. Multiple statusd
// instances share the work through a queue group.
type Subscriber struct {
	client messaging.Subscriber
	store  EventStore
	logger *logging.Logger

	sub messaging.Subscription
}

// NewSubscriber creates the status-channel subscriber.
func NewSubscriber(client messaging.Subscriber, store EventStore, logger *logging.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		store:  store,
		logger: logger,
	}
}

// Start subscribes to the status subject. Malformed events are logged
// and dropped; the status channel is best-effort by contract and a bad
// event must not wedge the sink.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.client.QueueSubscribe(messaging.SubjectStatus, messaging.QueueStatusWriters, func(ctx context.Context, msg *messaging.Message) error {
		ev, err := models.DecodeStatus(msg.Data)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping undecodable status event", logging.Error(err))
			return nil
		}

		if err := s.store.Insert(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist status event",
				logging.DocumentID(ev.DocumentID),
				logging.Status(ev.Status),
				logging.Error(err),
			)
			return err
		}

		metrics.AuditEventsStored.WithLabelValues(ev.Status).Inc()
		return nil
	})
	if err != nil {
		return err
	}

	s.sub = sub
	s.logger.InfoContext(ctx, "status subscriber started", logging.Queue(messaging.QueueStatusWriters))
	return nil
}

// Stop unsubscribes from the status subject.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

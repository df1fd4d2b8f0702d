package delivery_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/delivery"
	"github.com/docflow-systems/docflow-stack/internal/dlq"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
	"github.com/docflow-systems/docflow-stack/internal/pool"
)

type fakeDelivery struct {
	subject string
	data    []byte
	attempt int

	acked    bool
	naked    bool
	nakDelay time.Duration
	termed   bool
}

func (f *fakeDelivery) Subject() string { return f.subject }
func (f *fakeDelivery) Data() []byte    { return f.data }
func (f *fakeDelivery) Attempt() int    { return f.attempt }

func (f *fakeDelivery) Ack() error {
	f.acked = true
	return nil
}

func (f *fakeDelivery) Nak(delay time.Duration) error {
	f.naked = true
	f.nakDelay = delay
	return nil
}

func (f *fakeDelivery) Term() error {
	f.termed = true
	return nil
}

type publishCall struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu         sync.Mutex
	published  []publishCall
	publishErr error
}

func (f *fakeConn) Publish(ctx context.Context, subject string, data []byte) error {
	return f.PublishDurable(ctx, subject, data)
}

func (f *fakeConn) PublishDurable(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{subject: subject, data: data})
	return nil
}

func (f *fakeConn) IsConnected() bool { return true }
func (f *fakeConn) Close() error      { return nil }

type captureEmitter struct {
	mu     sync.Mutex
	events []*models.StatusEvent
}

func (c *captureEmitter) Emit(_ context.Context, ev *models.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

type captureDLQ struct {
	mu   sync.Mutex
	docs []*dlq.FailedDocument
}

func (c *captureDLQ) Write(_ context.Context, doc *dlq.FailedDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

type fixture struct {
	ctrl    *delivery.Controller
	conn    *fakeConn
	emitter *captureEmitter
	dlq     *captureDLQ
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := &fakeConn{}
	p, err := pool.New(1, 50*time.Millisecond, func() (pool.Conn, error) {
		return conn, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	emitter := &captureEmitter{}
	deadLetters := &captureDLQ{}
	logger := logging.New(slog.LevelError, "text")

	return &fixture{
		ctrl:    delivery.NewController(p, emitter, deadLetters, logger, 5*time.Second),
		conn:    conn,
		emitter: emitter,
		dlq:     deadLetters,
	}
}

func workItem() *pipeline.WorkItem {
	return &pipeline.WorkItem{
		DocumentID: "doc-123",
		Stage:      models.StageExtract,
		Tier:       "high",
		Payload:    []byte(`{"document_id":"doc-123"}`),
		Attempt:    1,
	}
}

func TestSettle_SuccessPublishesThenAcks(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{attempt: 1}

	state := fx.ctrl.Settle(context.Background(), msg, workItem(), &pipeline.Result{
		Success:     true,
		Output:      []byte(`{"document_id":"doc-123","extracted_text":"hi"}`),
		NextSubject: "docs.classify.high",
		Status:      models.StatusExtracted,
	})

	assert.Equal(t, delivery.StateAcked, state)
	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	assert.False(t, msg.termed)

	require.Len(t, fx.conn.published, 1)
	assert.Equal(t, "docs.classify.high", fx.conn.published[0].subject)

	require.Len(t, fx.emitter.events, 1)
	assert.Equal(t, "doc-123", fx.emitter.events[0].DocumentID)
	assert.Equal(t, models.StatusExtracted, fx.emitter.events[0].Status)
	assert.Empty(t, fx.dlq.docs)
}

func TestSettle_TerminalStageAcksWithoutPublish(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{attempt: 1}

	state := fx.ctrl.Settle(context.Background(), msg, workItem(), &pipeline.Result{
		Success: true,
		Status:  models.StatusRouted,
	})

	assert.Equal(t, delivery.StateAcked, state)
	assert.True(t, msg.acked)
	assert.Empty(t, fx.conn.published)
	require.Len(t, fx.emitter.events, 1)
	assert.Equal(t, models.StatusRouted, fx.emitter.events[0].Status)
}

func TestSettle_DownstreamPublishFailureRequeues(t *testing.T) {
	fx := newFixture(t)
	fx.conn.publishErr = errors.New("nats: connection closed")
	msg := &fakeDelivery{attempt: 2}

	state := fx.ctrl.Settle(context.Background(), msg, workItem(), &pipeline.Result{
		Success:     true,
		Output:      []byte(`{}`),
		NextSubject: "docs.classify.high",
		Status:      models.StatusExtracted,
	})

	assert.Equal(t, delivery.StateRequeued, state)
	assert.True(t, msg.naked)
	assert.Equal(t, 5*time.Second, msg.nakDelay)
	assert.False(t, msg.acked)
	assert.False(t, msg.termed)

	// Nothing terminal happened, so nothing is recorded yet.
	assert.Empty(t, fx.emitter.events)
	assert.Empty(t, fx.dlq.docs)
}

func TestSettle_TransientErrorRequeues(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{attempt: 3}

	state := fx.ctrl.Settle(context.Background(), msg, workItem(), &pipeline.Result{
		Err:    pipeline.Transient(errors.New("extraction backend timeout")),
		Status: models.StatusExtractionFailed,
	})

	assert.Equal(t, delivery.StateRequeued, state)
	assert.True(t, msg.naked)
	assert.Empty(t, fx.emitter.events)
	assert.Empty(t, fx.dlq.docs)
}

func TestSettle_PermanentErrorTerminates(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{attempt: 1}
	item := workItem()
	item.Attempt = 4

	state := fx.ctrl.Settle(context.Background(), msg, item, &pipeline.Result{
		Err:    pipeline.Permanent(errors.New("unsupported format")),
		Status: models.StatusExtractionFailed,
	})

	assert.Equal(t, delivery.StateDead, state)
	assert.True(t, msg.termed)
	assert.False(t, msg.naked)
	assert.False(t, msg.acked)

	require.Len(t, fx.dlq.docs, 1)
	assert.Equal(t, "doc-123", fx.dlq.docs[0].DocumentID)
	assert.Equal(t, "permanent", fx.dlq.docs[0].Reason)
	assert.Equal(t, 4, fx.dlq.docs[0].Attempts)

	require.Len(t, fx.emitter.events, 1)
	ev := fx.emitter.events[0]
	assert.Equal(t, models.StatusExtractionFailed, ev.Status)
	assert.Equal(t, 4, ev.Details["attempt"])
}

func TestSettle_UnclassifiedErrorTreatedAsPermanent(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{attempt: 1}

	state := fx.ctrl.Settle(context.Background(), msg, workItem(), &pipeline.Result{
		Err:    errors.New("nil pointer somewhere"),
		Status: models.StatusExtractionFailed,
	})

	assert.Equal(t, delivery.StateDead, state)
	assert.True(t, msg.termed)
	require.Len(t, fx.dlq.docs, 1)
}

func TestSettle_RedeliveryEmitsSecondEvent(t *testing.T) {
	// At-least-once delivery: a replayed message produces a second
	// append-only record rather than mutating the first.
	fx := newFixture(t)

	for attempt := 1; attempt <= 2; attempt++ {
		item := workItem()
		item.Attempt = attempt
		msg := &fakeDelivery{attempt: attempt}

		state := fx.ctrl.Settle(context.Background(), msg, item, &pipeline.Result{
			Success: true,
			Status:  models.StatusRouted,
		})
		assert.Equal(t, delivery.StateAcked, state)
	}

	require.Len(t, fx.emitter.events, 2)
	assert.Equal(t, 1, fx.emitter.events[0].Details["attempt"])
	assert.Equal(t, 2, fx.emitter.events[1].Details["attempt"])
}

func TestRejectMalformed(t *testing.T) {
	fx := newFixture(t)
	msg := &fakeDelivery{data: []byte("not json"), attempt: 1}

	state := fx.ctrl.RejectMalformed(context.Background(), msg, models.StageClassify, "medium", errors.New("invalid character 'n'"))

	assert.Equal(t, delivery.StateDead, state)
	assert.True(t, msg.termed)
	assert.False(t, msg.naked)

	require.Len(t, fx.dlq.docs, 1)
	assert.Equal(t, "malformed", fx.dlq.docs[0].Reason)
	assert.Equal(t, []byte("not json"), fx.dlq.docs[0].Payload)
}

// Package nats provides JetStream support for durable, at-least-once queues.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/docflow-systems/docflow-stack/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxAckPending is the maximum number of unacknowledged messages.
	// Set this to the consuming pool's worker count so one slow worker
	// cannot starve the others.
	MaxAckPending int
}

// StageStreamConfig returns the work-queue stream for a pipeline stage.
// Work-queue retention delivers each document to exactly one worker pool.
func StageStreamConfig(stage string) StreamConfig {
	return StreamConfig{
		Name:      messaging.StageStreamName(stage),
		Subjects:  []string{messaging.StageWildcard(stage)},
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}
}

// DLQStreamConfig is the dead-letter stream capturing permanently rejected
// documents for operator inspection.
var DLQStreamConfig = StreamConfig{
	Name:      "DOCS_DLQ",
	Subjects:  []string{messaging.SubjectDLQPrefix + ".>"},
	MaxAge:    7 * 24 * time.Hour,
	MaxBytes:  512 * 1024 * 1024, // 512MB
	MaxMsgs:   100000,
	Retention: jetstream.LimitsPolicy,
	Storage:   jetstream.FileStorage,
}

// defaultAckWait applies when no ack wait is configured.
const defaultAckWait = 30 * time.Second

// TierConsumerConfig returns the durable consumer for one stage+tier worker
// pool. No MaxDeliver cap: transient failures requeue until they succeed,
// with the attempt count surfaced on the audit channel for operators.
func TierConsumerConfig(stage, tier string, workers int, ackWait time.Duration) ConsumerConfig {
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	return ConsumerConfig{
		Name:          messaging.TierConsumerName(stage, tier),
		FilterSubject: messaging.StageSubject(stage, tier),
		AckWait:       ackWait,
		MaxAckPending: workers,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// PublishSync publishes a message and waits for the stream's acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// PublishDurable publishes to a stream subject and waits for the stream's
// acknowledgment. Stage-to-stage traffic uses this so a document is never
// acked upstream before the next queue has taken custody of it.
func (c *JetStreamClient) PublishDurable(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("durable publish to %s: %w", subject, err)
	}
	return nil
}

// Receiver creates a messaging.Receiver pulling from the named durable
// consumer one message at a time.
func (c *JetStreamClient) Receiver(ctx context.Context, streamName, consumerName string) (messaging.Receiver, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info %s: %w", consumerName, err)
	}

	return &pullReceiver{
		consumer: consumer,
		subject:  info.Config.FilterSubject,
	}, nil
}

// pullReceiver implements messaging.Receiver over a JetStream pull consumer.
type pullReceiver struct {
	consumer jetstream.Consumer
	subject  string
}

func (r *pullReceiver) Fetch(ctx context.Context) (messaging.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := r.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		if errors.Is(err, jetstream.ErrNoMessages) {
			return nil, messaging.ErrNoMessage
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}

	for msg := range batch.Messages() {
		return &jsDelivery{msg: msg}, nil
	}

	if batchErr := batch.Error(); batchErr != nil && !errors.Is(batchErr, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("fetch: %w", batchErr)
	}
	return nil, messaging.ErrNoMessage
}

func (r *pullReceiver) Subject() string {
	return r.subject
}

func (r *pullReceiver) Stop() error {
	return nil
}

// jsDelivery adapts a JetStream message to messaging.Delivery.
type jsDelivery struct {
	msg jetstream.Msg
}

func (d *jsDelivery) Subject() string {
	return d.msg.Subject()
}

func (d *jsDelivery) Data() []byte {
	return d.msg.Data()
}

func (d *jsDelivery) Attempt() int {
	meta, err := d.msg.Metadata()
	if err != nil || meta == nil {
		return 1
	}
	return int(meta.NumDelivered)
}

func (d *jsDelivery) Ack() error {
	return d.msg.Ack()
}

func (d *jsDelivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *jsDelivery) Term() error {
	return d.msg.Term()
}

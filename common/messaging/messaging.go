// Package messaging provides abstractions for message broker communication.
// It defines interfaces that allow pipeline stages to publish, subscribe and
// consume work-queue messages without being coupled to a specific broker
// implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by Receiver.Fetch when no message arrived within
// the receive window. Callers should simply fetch again.
var ErrNoMessage = errors.New("messaging: no message available")

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Reply is an optional subject for request/reply patterns.
	Reply string

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published.
	Timestamp time.Time
}

// MessageHandler processes a received broadcast message.
// Return an error to indicate processing failure.
type MessageHandler func(ctx context.Context, msg *Message) error

// Delivery is a single work-queue message requiring explicit settlement.
// Exactly one of Ack, Nak or Term must be called per delivery:
//
//   - Ack marks the message processed; it will not be redelivered.
//   - Nak rejects the message and requeues it after the given delay.
//   - Term rejects the message permanently; it is never redelivered.
type Delivery interface {
	// Subject returns the subject the message was published to.
	Subject() string

	// Data returns the raw message payload.
	Data() []byte

	// Attempt returns the 1-based delivery attempt count.
	Attempt() int

	Ack() error
	Nak(delay time.Duration) error
	Term() error
}

// Receiver is a blocking work-queue consumer. Each Fetch returns at most one
// delivery; the broker bounds unsettled deliveries per consumer, so a slow
// caller exerts backpressure at the queue rather than in memory.
type Receiver interface {
	// Fetch blocks until a message is available, the receive window elapses
	// (ErrNoMessage), or ctx is done.
	Fetch(ctx context.Context) (Delivery, error)

	// Subject returns the subject this receiver consumes.
	Subject() string

	// Stop releases the receiver's resources.
	Stop() error
}

// Subscription represents an active broadcast subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages on this subscription.
	Unsubscribe() error

	// Subject returns the subject this subscription is listening to.
	Subject() string

	// IsValid returns true if the subscription is still active.
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends a message to the specified subject, fire-and-forget.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with full control over headers and metadata.
	PublishMsg(ctx context.Context, msg *Message) error

	// Request sends a message and waits for a response (request/reply).
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber subscribes to broadcast messages on subjects.
type Subscriber interface {
	// Subscribe creates a subscription to the specified subject.
	// Each subscriber receives all messages (fan-out).
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription. Messages are
	// load-balanced across subscribers in the same queue group.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	// Close releases any resources and unsubscribes all subscriptions.
	Close() error
}

// Client combines Publisher and Subscriber interfaces.
type Client interface {
	Publisher
	Subscriber

	// Drain gracefully closes the connection, allowing in-flight messages
	// to complete.
	Drain() error

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool
}

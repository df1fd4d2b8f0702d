// Package pipeline defines the contracts between the dispatch core and the
// stage business logic: the work item, the processor interface and the
// explicit error taxonomy the delivery controller branches on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransient and ErrPermanent are the sentinel errors processors use to
// classify failures. The delivery controller branches on these with
// errors.Is rather than inferring the class from error text.
var (
	// ErrTransient marks a retryable failure (dependency unavailable,
	// timeout). The message is requeued.
	ErrTransient = errors.New("transient error")

	// ErrPermanent marks a failure retrying cannot fix (bad input,
	// unsupported format). The message is terminated, never requeued.
	ErrPermanent = errors.New("permanent error")
)

// Transient annotates an error as retryable.
func Transient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Permanent annotates an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// WorkItem is one unit of pipeline work: a decoded stage envelope plus
// delivery bookkeeping. Immutable once created except Attempt, which
// reflects the broker's redelivery count.
type WorkItem struct {
	// DocumentID is the globally unique document identifier.
	DocumentID string

	// Stage is the pipeline stage processing this item.
	Stage string

	// Tier is the wire name of the item's priority tier.
	Tier string

	// Payload is the raw envelope bytes as received from the queue.
	Payload []byte

	// Attempt is the 1-based delivery attempt count.
	Attempt int
}

// Result is produced once per processing attempt. On success, Output holds
// the envelope for the next stage (nil at the terminal stage) and
// NextSubject names the queue it belongs on.
type Result struct {
	// Success reports whether the processor completed.
	Success bool

	// Output is the next stage's envelope, already encoded. Empty at the
	// terminal stage or on failure.
	Output []byte

	// NextSubject is the subject Output must be published to. Empty when
	// Output is empty.
	NextSubject string

	// Err classifies the failure via ErrTransient/ErrPermanent when
	// Success is false.
	Err error

	// Status is the audit status for this attempt's terminal event
	// (e.g. "Extracted" or "Extraction Failed").
	Status string

	// Details is attached to the audit event for this attempt.
	Details map[string]interface{}

	// DocType and Confidence enrich audit events from the classify stage on.
	DocType    string
	Confidence *float64

	// Duration is how long the processor ran.
	Duration time.Duration
}

// Processor executes one stage's business logic for one work item. The
// dispatch core treats it as an opaque, fallible operation: it must classify
// every failure as transient or permanent via the sentinel errors.
type Processor interface {
	Process(ctx context.Context, item *WorkItem) *Result
}

// Failed builds a failure Result with the given audit status.
func Failed(status string, err error) *Result {
	return &Result{
		Success: false,
		Err:     err,
		Status:  status,
		Details: map[string]interface{}{"error": err.Error()},
	}
}

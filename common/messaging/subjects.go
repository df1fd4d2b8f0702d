// Package messaging defines standard subject names for the docflow message bus.
package messaging

import "fmt"

// Subject constants for the docflow message bus.
// Work subjects follow the pattern: docs.{stage}.{tier}
const (
	// SubjectStatus is the broadcast channel for document lifecycle events.
	// Fire-and-forget; consumed by the status store and any observer.
	SubjectStatus = "docs.status"

	// SubjectDLQPrefix prefixes dead-letter subjects: docs.dlq.{reason}
	SubjectDLQPrefix = "docs.dlq"
)

// Queue group names for load-balanced broadcast consumers.
const (
	QueueStatusWriters = "status-writers" // Pool of audit store writers
)

// StageSubject returns the work subject for a stage and priority tier.
// Example: docs.extract.critical
func StageSubject(stage, tier string) string {
	return fmt.Sprintf("docs.%s.%s", stage, tier)
}

// StageWildcard returns the subject filter capturing every tier of a stage.
// Example: docs.extract.>
func StageWildcard(stage string) string {
	return fmt.Sprintf("docs.%s.>", stage)
}

// StageStreamName returns the JetStream stream name for a stage.
// Example: DOCS_EXTRACT
func StageStreamName(stage string) string {
	upper := ""
	for _, r := range stage {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}
	return "DOCS_" + upper
}

// TierConsumerName returns the durable consumer name for a stage+tier pool.
// Example: extract-critical-workers
func TierConsumerName(stage, tier string) string {
	return fmt.Sprintf("%s-%s-workers", stage, tier)
}

// DLQSubject returns the dead-letter subject for a failure reason.
// Example: docs.dlq.malformed
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + reason
}

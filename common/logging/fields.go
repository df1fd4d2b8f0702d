package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService    = "service"
	FieldDocumentID = "document_id"
	FieldStage      = "stage"
	FieldTier       = "tier"
	FieldQueue      = "queue"
	FieldDocType    = "doc_type"
	FieldAttempt    = "attempt"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldDest       = "destination"
	FieldSender     = "sender"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// DocumentID returns a slog attribute for the document ID.
func DocumentID(id string) slog.Attr {
	return slog.String(FieldDocumentID, id)
}

// Stage returns a slog attribute for the pipeline stage.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Tier returns a slog attribute for the priority tier.
func Tier(name string) slog.Attr {
	return slog.String(FieldTier, name)
}

// Queue returns a slog attribute for a queue or subject name.
func Queue(name string) slog.Attr {
	return slog.String(FieldQueue, name)
}

// DocType returns a slog attribute for the classified document type.
func DocType(t string) slog.Attr {
	return slog.String(FieldDocType, t)
}

// Attempt returns a slog attribute for the delivery attempt count.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Status returns a slog attribute for a lifecycle status.
func Status(s string) slog.Attr {
	return slog.String(FieldStatus, s)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Destination returns a slog attribute for a routing destination.
func Destination(name string) slog.Attr {
	return slog.String(FieldDest, name)
}

// Sender returns a slog attribute for the document sender.
func Sender(s string) slog.Attr {
	return slog.String(FieldSender, s)
}

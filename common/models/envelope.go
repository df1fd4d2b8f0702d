// Package models defines the JSON envelopes exchanged between docflow
// pipeline stages over the message broker.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage names used in queue subjects and audit events.
const (
	StageIngest   = "ingest"
	StageExtract  = "extract"
	StageClassify = "classify"
	StageRoute    = "route"
)

// Lifecycle statuses recorded on the audit channel. Exactly one terminal
// status is emitted per stage attempt: the success status for the stage or
// its "... Failed" counterpart.
const (
	StatusIngested         = "Ingested"
	StatusIngestionFailed  = "Ingestion Failed"
	StatusExtracted        = "Extracted"
	StatusExtractionFailed = "Extraction Failed"
	StatusClassified       = "Classified"
	StatusClassifyFailed   = "Classification Failed"
	StatusRouted           = "Routed"
	StatusRoutingFailed    = "Routing Failed"
	StatusDuplicateSkipped = "Duplicate Skipped"
)

// Override carries operator re-entry metadata. Overrides are ordinary stage
// messages with these extra fields set; no stage special-cases them.
type Override struct {
	EventType  string                 `json:"event_type,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Parameters map[string]interface{} `json:"override_parameters,omitempty"`
}

// IngestEnvelope flows from the ingestor to the extractor's tier queue.
// Payload is the raw document content (base64 on the wire).
type IngestEnvelope struct {
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
	Payload        []byte `json:"payload"`
	PriorityScore  string `json:"priority_score"`
	PriorityReason string `json:"priority_reason"`
	Sender         string `json:"sender"`
	Source         string `json:"source"`
	Override
}

// ExtractEnvelope flows from the extractor to the classifier's tier queue.
type ExtractEnvelope struct {
	DocumentID      string            `json:"document_id"`
	Filename        string            `json:"filename"`
	ExtractedText   string            `json:"extracted_text"`
	Summary         string            `json:"summary"`
	Entities        map[string]string `json:"entities"`
	PriorityContent string            `json:"priority_content"`
	Sender          string            `json:"sender"`
	PriorityScore   string            `json:"priority_score"`
	PriorityReason  string            `json:"priority_reason"`
	Override
}

// ClassifyEnvelope flows from the classifier to the router's tier queue.
type ClassifyEnvelope struct {
	DocumentID      string            `json:"document_id"`
	Filename        string            `json:"filename"`
	DocType         string            `json:"doc_type"`
	Confidence      float64           `json:"confidence"`
	Entities        map[string]string `json:"entities"`
	Summary         string            `json:"summary"`
	PriorityContent string            `json:"priority_content"`
	IsVIP           bool              `json:"is_vip"`
	VIPLevel        string            `json:"vip_level,omitempty"`
	PriorityScore   string            `json:"priority_score"`
	PriorityReason  string            `json:"priority_reason"`
	Sender          string            `json:"sender"`
	Override
}

// StatusEvent is published on the broadcast status channel and appended to
// the audit store. Events are write-once: replays produce new rows, never
// updates.
type StatusEvent struct {
	DocumentID string                 `json:"document_id"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details"`
	DocType    string                 `json:"doc_type,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"`
}

// DecodeIngest parses an ingest envelope, rejecting messages without a
// document ID. A decode failure here is the malformed-input error class.
func DecodeIngest(data []byte) (*IngestEnvelope, error) {
	var env IngestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode ingest envelope: %w", err)
	}
	if env.DocumentID == "" {
		return nil, fmt.Errorf("decode ingest envelope: missing document_id")
	}
	return &env, nil
}

// DecodeExtract parses an extract envelope.
func DecodeExtract(data []byte) (*ExtractEnvelope, error) {
	var env ExtractEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode extract envelope: %w", err)
	}
	if env.DocumentID == "" {
		return nil, fmt.Errorf("decode extract envelope: missing document_id")
	}
	return &env, nil
}

// DecodeClassify parses a classify envelope.
func DecodeClassify(data []byte) (*ClassifyEnvelope, error) {
	var env ClassifyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode classify envelope: %w", err)
	}
	if env.DocumentID == "" {
		return nil, fmt.Errorf("decode classify envelope: missing document_id")
	}
	return &env, nil
}

// DecodeStatus parses a status event from the broadcast channel.
func DecodeStatus(data []byte) (*StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode status event: %w", err)
	}
	if ev.DocumentID == "" {
		return nil, fmt.Errorf("decode status event: missing document_id")
	}
	return &ev, nil
}

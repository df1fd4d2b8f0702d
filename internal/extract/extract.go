// Package extract implements the extraction stage: turn a raw uploaded
// document into text, a short summary and a naive entity set for the
// classifier. OCR and LLM cleanup are external concerns; this stage
// handles the plumbing and the text formats it can read natively.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

const summaryLimit = 200

var (
	amountPattern = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d{2})?`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	datePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
)

// Processor is the extraction stage worker logic.
type Processor struct{}

// NewProcessor creates the extract-stage processor.
func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) Process(ctx context.Context, item *pipeline.WorkItem) *pipeline.Result {
	env, err := models.DecodeIngest(item.Payload)
	if err != nil {
		return pipeline.Failed(models.StatusExtractionFailed, pipeline.Permanent(err))
	}

	text, err := extractText(env.Payload, env.ContentType)
	if err != nil {
		return pipeline.Failed(models.StatusExtractionFailed, pipeline.Permanent(err))
	}

	out := &models.ExtractEnvelope{
		DocumentID:      env.DocumentID,
		Filename:        env.Filename,
		ExtractedText:   text,
		Summary:         summarize(text),
		Entities:        captureEntities(text),
		PriorityContent: env.PriorityReason,
		Sender:          env.Sender,
		PriorityScore:   env.PriorityScore,
		PriorityReason:  env.PriorityReason,
		Override:        env.Override,
	}

	data, err := json.Marshal(out)
	if err != nil {
		return pipeline.Failed(models.StatusExtractionFailed, pipeline.Permanent(err))
	}

	return &pipeline.Result{
		Success:     true,
		Output:      data,
		NextSubject: messaging.StageSubject(models.StageClassify, item.Tier),
		Status:      models.StatusExtracted,
		Details: map[string]interface{}{
			"chars_extracted": utf8.RuneCountInString(text),
		},
	}
}

// extractText reads the document body as text. Binary formats need an
// OCR backend and are rejected as permanently unprocessable here.
func extractText(content []byte, contentType string) (string, error) {
	mime := strings.ToLower(contentType)
	switch {
	case strings.Contains(mime, "text"), strings.Contains(mime, "json"):
		if !utf8.Valid(content) {
			return "", fmt.Errorf("content declared %s but is not valid UTF-8", contentType)
		}
		return string(content), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", contentType)
	}
}

// summarize returns the first paragraph, truncated on a rune boundary.
func summarize(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "\n\n"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.Join(strings.Fields(trimmed), " ")

	runes := []rune(trimmed)
	if len(runes) <= summaryLimit {
		return trimmed
	}
	return string(runes[:summaryLimit]) + "…"
}

// captureEntities pulls obvious structured values out of the text.
// Amounts drive the classifier's invoice shortcut downstream.
func captureEntities(text string) map[string]string {
	entities := make(map[string]string)

	if amounts := amountPattern.FindAllString(text, 5); len(amounts) > 0 {
		entities["amounts"] = strings.Join(amounts, ", ")
	}
	if emails := emailPattern.FindAllString(text, 3); len(emails) > 0 {
		entities["emails"] = strings.Join(emails, ", ")
	}
	if dates := datePattern.FindAllString(text, 3); len(dates) > 0 {
		entities["dates"] = strings.Join(dates, ", ")
	}

	return entities
}

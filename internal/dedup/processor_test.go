package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

type countingProcessor struct {
	calls int
}

func (c *countingProcessor) Process(_ context.Context, _ *pipeline.WorkItem) *pipeline.Result {
	c.calls++
	return &pipeline.Result{Success: true, Status: models.StatusExtracted}
}

type failingDeduper struct{}

func (failingDeduper) Seen(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("redis down")
}
func (failingDeduper) Close() error { return nil }

func workItem(docID string, attempt int) *pipeline.WorkItem {
	return &pipeline.WorkItem{
		DocumentID: docID,
		Stage:      models.StageExtract,
		Tier:       "high",
		Attempt:    attempt,
	}
}

func TestProcessor_FirstDeliveryRuns(t *testing.T) {
	_, d := setupTestRedis(t)
	inner := &countingProcessor{}
	p := NewProcessor(inner, d, logging.New(slog.LevelError, "text"))

	res := p.Process(context.Background(), workItem("doc-1", 1))

	require.True(t, res.Success)
	assert.Equal(t, models.StatusExtracted, res.Status)
	assert.Equal(t, 1, inner.calls)
}

func TestProcessor_DuplicateSkipsInner(t *testing.T) {
	_, d := setupTestRedis(t)
	inner := &countingProcessor{}
	p := NewProcessor(inner, d, logging.New(slog.LevelError, "text"))

	ctx := context.Background()
	first := p.Process(ctx, workItem("doc-1", 1))
	dup := p.Process(ctx, workItem("doc-1", 1))

	assert.Equal(t, models.StatusExtracted, first.Status)
	require.True(t, dup.Success)
	assert.Equal(t, models.StatusDuplicateSkipped, dup.Status)
	assert.Equal(t, 1, inner.calls)
}

func TestProcessor_RedeliveryBypassesClaim(t *testing.T) {
	_, d := setupTestRedis(t)
	inner := &countingProcessor{}
	p := NewProcessor(inner, d, logging.New(slog.LevelError, "text"))

	ctx := context.Background()
	p.Process(ctx, workItem("doc-1", 1))
	res := p.Process(ctx, workItem("doc-1", 2))

	assert.Equal(t, models.StatusExtracted, res.Status)
	assert.Equal(t, 2, inner.calls)
}

func TestProcessor_DedupFailureFallsOpen(t *testing.T) {
	inner := &countingProcessor{}
	p := NewProcessor(inner, failingDeduper{}, logging.New(slog.LevelError, "text"))

	res := p.Process(context.Background(), workItem("doc-1", 1))

	require.True(t, res.Success)
	assert.Equal(t, models.StatusExtracted, res.Status)
	assert.Equal(t, 1, inner.calls)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/common/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 4, cfg.NATS.PoolSize)
	assert.Equal(t, 4, cfg.Pipeline.Workers.Critical)
	assert.Equal(t, 1, cfg.Pipeline.Workers.Bulk)
	assert.InDelta(t, 0.85, cfg.Classify.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 8001, cfg.Ingestor.Server.Port)
	assert.Equal(t, 8002, cfg.Statusd.Server.Port)
	assert.False(t, cfg.Dedup.Enabled)

	// Ledger categories route to the spreadsheet chain, review documents
	// to a human; unknown categories fall through to the operator alert.
	assert.Equal(t, []string{"spreadsheet", "archive"}, cfg.Routing.Rules["INVOICE"])
	assert.Equal(t, []string{"chat"}, cfg.Routing.Rules["NEEDS_HUMAN_REVIEW"])
	assert.Empty(t, cfg.Routing.DefaultChain)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docflow.yaml")
	yaml := `
nats:
  url: nats://broker:4222
  pool_size: 8
pipeline:
  workers:
    critical: 6
classify:
  confidence_threshold: 0.7
routing:
  rules:
    INVOICE: [spreadsheet, archive]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 8, cfg.NATS.PoolSize)
	assert.Equal(t, 6, cfg.Pipeline.Workers.Critical)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Pipeline.Workers.High)
	assert.InDelta(t, 0.7, cfg.Classify.ConfidenceThreshold, 1e-9)
	assert.Equal(t, []string{"spreadsheet", "archive"}, cfg.Routing.Rules["INVOICE"])
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := config.Load("/nonexistent/docflow.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.PoolSize = 0
	assert.ErrorContains(t, cfg.Validate(), "pool_size")

	cfg = config.Default()
	cfg.Pipeline.Workers.Medium = 0
	assert.ErrorContains(t, cfg.Validate(), "workers.medium")

	cfg = config.Default()
	cfg.Classify.ConfidenceThreshold = 1.5
	assert.ErrorContains(t, cfg.Validate(), "confidence_threshold")
}

func TestDumpRoundTrips(t *testing.T) {
	out, err := config.Default().Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "nats:")
	assert.Contains(t, out, "pipeline:")
}

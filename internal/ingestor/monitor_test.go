package ingestor_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/internal/ingestor"
)

type captureSink struct {
	mu      sync.Mutex
	uploads []*ingestor.Upload
	err     error
}

func (c *captureSink) Ingest(_ context.Context, up *ingestor.Upload) (*ingestor.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.uploads = append(c.uploads, up)
	return &ingestor.Receipt{
		DocumentID: "doc-watch",
		Filename:   up.Filename,
		Priority:   "low",
		Status:     "published",
	}, nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

func (c *captureSink) upload(i int) *ingestor.Upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads[i]
}

func startMonitor(t *testing.T, dir string, sink ingestor.Sink) *ingestor.Monitor {
	t.Helper()
	mon, err := ingestor.NewMonitor(ingestor.MonitorConfig{
		Dir:         dir,
		SettleDelay: 10 * time.Millisecond,
	}, sink, logging.New(slog.LevelError, "text"))
	require.NoError(t, err)
	require.NoError(t, mon.Start(context.Background()))
	t.Cleanup(mon.Stop)
	return mon
}

func TestMonitor_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}
	startMonitor(t, dir, sink)

	path := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf bytes"), 0o644))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)

	up := sink.upload(0)
	assert.Equal(t, "invoice.pdf", up.Filename)
	assert.Equal(t, []byte("pdf bytes"), up.Content)
	assert.Equal(t, "file_share", up.Source)
	assert.Equal(t, "folder-monitor", up.Sender)

	// The processed file leaves the watch tree so it is never re-ingested.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 3*time.Second, 20*time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, ".processed", "invoice.pdf"))
	assert.NoError(t, err)
}

func TestMonitor_SweepsFilesPresentAtStartup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backlog.docx"), []byte("old"), 0o644))

	sink := &captureSink{}
	startMonitor(t, dir, sink)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "backlog.docx", sink.upload(0).Filename)
}

func TestMonitor_SkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}
	startMonitor(t, dir, sink)

	path := filepath.Join(dir, "upload.pdf.tmp")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
	_, err := os.Stat(path)
	assert.NoError(t, err, "temp files stay where they are")
}

func TestMonitor_HighPriorityFolderCarriesUrgencyHint(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "high_priority")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	sink := &captureSink{}
	startMonitor(t, dir, sink)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "contract.pdf"), []byte("sign me"), 0o644))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, sink.upload(0).UrgencyText, "urgent")
}

func TestMonitor_FailedIngestLeavesFileInPlace(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{err: errors.New("broker down")}
	startMonitor(t, dir, sink)

	path := filepath.Join(dir, "stuck.pdf")
	require.NoError(t, os.WriteFile(path, []byte("retry me"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
	_, err := os.Stat(path)
	assert.NoError(t, err, "failed files must survive for the next sweep")
}

func TestNewMonitor_Validation(t *testing.T) {
	_, err := ingestor.NewMonitor(ingestor.MonitorConfig{}, &captureSink{}, logging.New(slog.LevelError, "text"))
	assert.Error(t, err)

	_, err = ingestor.NewMonitor(ingestor.MonitorConfig{Dir: t.TempDir()}, nil, logging.New(slog.LevelError, "text"))
	assert.Error(t, err)
}

package ingestor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docflow-systems/docflow-stack/common/logging"
)

// Sink receives documents picked up from the watch folder. *Service
// satisfies it.
type Sink interface {
	Ingest(ctx context.Context, up *Upload) (*Receipt, error)
}

// MonitorConfig configures the watched-folder ingestion source.
type MonitorConfig struct {
	// Dir is the folder tree to watch for dropped documents.
	Dir string

	// ProcessedDir is where ingested files are moved so a restart never
	// re-ingests them. Defaults to <Dir>/.processed.
	ProcessedDir string

	// SettleDelay is how long a new file must sit before it is read,
	// giving the writer time to finish. Defaults to one second.
	SettleDelay time.Duration
}

// Monitor watches a folder tree and ingests every document dropped into
// it. Files already present at startup are swept on Start; files whose
// ingestion fails stay in place for the next sweep.
type Monitor struct {
	cfg    MonitorConfig
	sink   Sink
	logger *logging.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
}

// NewMonitor validates the configuration and creates the watch and
// processed directories.
func NewMonitor(cfg MonitorConfig, sink Sink, logger *logging.Logger) (*Monitor, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("monitor: watch dir is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("monitor: sink is required")
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.Dir, ".processed")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("monitor: create watch dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0o755); err != nil {
		return nil, fmt.Errorf("monitor: create processed dir: %w", err)
	}

	return &Monitor{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		pending: make(map[string]bool),
	}, nil
}

// Start begins watching. Subdirectories are watched too, including ones
// created later; ProcessedDir is excluded.
func (m *Monitor) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("monitor: create watcher: %w", err)
	}
	m.watcher = watcher

	ctx, m.cancel = context.WithCancel(ctx)

	if err := m.watchTree(m.cfg.Dir); err != nil {
		_ = watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.loop(ctx)

	m.sweep(ctx)
	m.logger.InfoContext(ctx, "watching folder for documents", "dir", m.cfg.Dir)
	return nil
}

// Stop halts watching and waits for scheduled ingestions to wind down.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Has(fsnotify.Create) {
					if err := m.watchTree(ev.Name); err != nil {
						m.logger.WarnContext(ctx, "could not watch new subfolder",
							"dir", ev.Name, logging.Error(err))
					}
				}
				continue
			}
			m.schedule(ctx, ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.WarnContext(ctx, "folder watch error", logging.Error(err))
		}
	}
}

// schedule queues one ingestion per path after the settle delay. A file
// already pending is not queued twice no matter how many events it
// generates while being written.
func (m *Monitor) schedule(ctx context.Context, path string) {
	if m.skip(path) {
		return
	}

	m.mu.Lock()
	if m.pending[path] {
		m.mu.Unlock()
		return
	}
	m.pending[path] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.pending, path)
			m.mu.Unlock()
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.SettleDelay):
		}
		m.ingestFile(ctx, path)
	}()
}

func (m *Monitor) ingestFile(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		m.logger.WarnContext(ctx, "could not read dropped file",
			"path", path, logging.Error(err))
		return
	}

	receipt, err := m.sink.Ingest(ctx, &Upload{
		Filename:    filepath.Base(path),
		ContentType: "application/octet-stream",
		Content:     content,
		Sender:      "folder-monitor",
		Source:      "file_share",
		UrgencyText: folderHint(path),
	})
	if err != nil {
		// Leave the file in place; the next startup sweep retries it.
		m.logger.ErrorContext(ctx, "folder ingestion failed",
			"path", path, logging.Error(err))
		return
	}

	if err := m.moveProcessed(path); err != nil {
		m.logger.WarnContext(ctx, "could not move processed file",
			"path", path, logging.Error(err))
	}

	m.logger.InfoContext(ctx, "document ingested from watch folder",
		"path", path,
		logging.DocumentID(receipt.DocumentID),
		logging.Tier(receipt.Priority),
	)
}

// moveProcessed relocates an ingested file out of the watch tree. A name
// collision in ProcessedDir gets a timestamp prefix.
func (m *Monitor) moveProcessed(path string) error {
	dest := filepath.Join(m.cfg.ProcessedDir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(m.cfg.ProcessedDir,
			fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	}
	return os.Rename(path, dest)
}

func (m *Monitor) skip(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return true
	}
	return strings.HasPrefix(path, m.cfg.ProcessedDir+string(filepath.Separator))
}

// watchTree adds root and every subdirectory to the watcher, excluding
// the processed tree.
func (m *Monitor) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path == m.cfg.ProcessedDir {
			return filepath.SkipDir
		}
		if err := m.watcher.Add(path); err != nil {
			return fmt.Errorf("monitor: watch %s: %w", path, err)
		}
		return nil
	})
}

// sweep schedules every file already sitting in the watch tree.
func (m *Monitor) sweep(ctx context.Context) {
	_ = filepath.WalkDir(m.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path == m.cfg.ProcessedDir {
				return filepath.SkipDir
			}
			return nil
		}
		m.schedule(ctx, path)
		return nil
	})
}

// folderHint turns a high-priority drop folder into an urgency marker the
// priority classifier picks up.
func folderHint(path string) string {
	if strings.Contains(filepath.Dir(path), "high_priority") {
		return "urgent: high_priority drop folder"
	}
	return ""
}

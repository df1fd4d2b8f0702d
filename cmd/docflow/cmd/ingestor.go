package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docflow-systems/docflow-stack/common/logging"
	natsclient "github.com/docflow-systems/docflow-stack/common/messaging/nats"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/ingestor"
)

var ingestorCmd = &cobra.Command{
	Use:   "ingestor",
	Short: "Run the document intake service",
	Long: `The ingestor accepts document uploads over HTTP, scores their
priority and publishes them durably onto the extraction queues.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runIngestor()
	},
}

func init() {
	rootCmd.AddCommand(ingestorCmd)
}

func runIngestor() error {
	logger := newLogger("ingestor")
	logger.Info("starting service",
		"port", cfg.Ingestor.Server.Port,
		"nats_url", cfg.NATS.URL,
	)

	js, err := natsclient.NewJetStreamClient(natsConfig())
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer js.Close()

	provisionCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = provisionIngress(provisionCtx, js)
	cancel()
	if err != nil {
		return fmt.Errorf("provision streams: %w", err)
	}

	connPool, err := newConnPool()
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer connPool.Close()

	var limiter ingestor.RateLimiter = ingestor.NoOpRateLimiter{}
	if cfg.Redis.Enabled && cfg.Ingestor.RateLimitEnabled {
		rl, err := ingestor.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestor.RateLimitRequests,
			cfg.Ingestor.RateLimitWindow,
		)
		if err != nil {
			logger.Warn("rate limiter unavailable, continuing without it", logging.Error(err))
		} else {
			limiter = rl
			logger.Info("rate limiting enabled",
				"requests", cfg.Ingestor.RateLimitRequests,
				"window", cfg.Ingestor.RateLimitWindow.String(),
			)
		}
	}
	defer limiter.Close()

	emitter := audit.NewPublisher(connPool, logger, 2*time.Second)
	service := ingestor.NewService(connPool, emitter, logger)
	handler := ingestor.NewHandler(service, limiter, logger)

	var shutdown func()
	if cfg.Ingestor.Watch.Enabled {
		monitor, err := ingestor.NewMonitor(ingestor.MonitorConfig{
			Dir:          cfg.Ingestor.Watch.Dir,
			ProcessedDir: cfg.Ingestor.Watch.ProcessedDir,
			SettleDelay:  cfg.Ingestor.Watch.SettleDelay,
		}, service, logger)
		if err != nil {
			return fmt.Errorf("create folder monitor: %w", err)
		}
		if err := monitor.Start(context.Background()); err != nil {
			return fmt.Errorf("start folder monitor: %w", err)
		}
		shutdown = monitor.Stop
	}

	srv := httpServer(cfg.Ingestor.Server, ingestor.NewRouter(handler))
	return serveHTTP(srv, logger, shutdown)
}

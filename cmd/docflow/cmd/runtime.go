package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docflow-systems/docflow-stack/common/config"
	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	natsclient "github.com/docflow-systems/docflow-stack/common/messaging/nats"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/dedup"
	"github.com/docflow-systems/docflow-stack/internal/delivery"
	"github.com/docflow-systems/docflow-stack/internal/dlq"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
	"github.com/docflow-systems/docflow-stack/internal/pool"
	"github.com/docflow-systems/docflow-stack/internal/priority"
	"github.com/docflow-systems/docflow-stack/internal/worker"
)

// newLogger builds the service logger and installs it as the process
// default.
func newLogger(service string) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service(service))
	logging.SetDefault(logger)
	return logger
}

func natsConfig() natsclient.Config {
	return natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	}
}

// newConnPool builds the fixed-size broker connection pool every service
// publishes through.
func newConnPool() (*pool.Pool, error) {
	return pool.New(cfg.NATS.PoolSize, cfg.NATS.CheckoutWait, func() (pool.Conn, error) {
		return natsclient.NewJetStreamClient(natsConfig())
	})
}

// tierWorkers maps the configured per-tier worker counts.
func tierWorkers() map[priority.Tier]int {
	return map[priority.Tier]int{
		priority.TierCritical: cfg.Pipeline.Workers.Critical,
		priority.TierHigh:     cfg.Pipeline.Workers.High,
		priority.TierMedium:   cfg.Pipeline.Workers.Medium,
		priority.TierLow:      cfg.Pipeline.Workers.Low,
		priority.TierBulk:     cfg.Pipeline.Workers.Bulk,
	}
}

// provisionStage creates the stage's work-queue stream and one durable
// consumer per tier, plus the shared dead-letter stream. Provisioning is
// idempotent; every service replica runs it at startup.
func provisionStage(ctx context.Context, js *natsclient.JetStreamClient, stage string) error {
	if _, err := js.CreateOrUpdateStream(ctx, natsclient.StageStreamConfig(stage)); err != nil {
		return err
	}
	if _, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStreamConfig); err != nil {
		return err
	}

	for tier, workers := range tierWorkers() {
		_, err := js.CreateOrUpdateConsumer(ctx,
			natsclient.StageStreamConfig(stage).Name,
			natsclient.TierConsumerConfig(stage, tier.String(), workers, cfg.Pipeline.AckWait),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// provisionIngress creates the streams the ingestor publishes into: the
// extract stage queue plus the dead-letter stream.
func provisionIngress(ctx context.Context, js *natsclient.JetStreamClient) error {
	return provisionStage(ctx, js, models.StageExtract)
}

// newDeduper returns the configured duplicate suppressor.
func newDeduper(logger *logging.Logger) dedup.Deduper {
	if !cfg.Redis.Enabled || !cfg.Dedup.Enabled {
		return dedup.NoOpDeduper{}
	}

	d, err := dedup.NewRedisDeduper(cfg.Redis.URL, cfg.Dedup.TTL)
	if err != nil {
		logger.Warn("dedup unavailable, continuing without it", logging.Error(err))
		return dedup.NoOpDeduper{}
	}
	logger.Info("duplicate suppression enabled", "ttl", cfg.Dedup.TTL.String())
	return d
}

// identifyFor returns the Identify func for one stage's envelope type.
func identifyFor(stage string) worker.Identify {
	switch stage {
	case models.StageClassify:
		return func(data []byte) (string, error) {
			env, err := models.DecodeExtract(data)
			if err != nil {
				return "", err
			}
			return env.DocumentID, nil
		}
	case models.StageRoute:
		return func(data []byte) (string, error) {
			env, err := models.DecodeClassify(data)
			if err != nil {
				return "", err
			}
			return env.DocumentID, nil
		}
	default:
		return func(data []byte) (string, error) {
			env, err := models.DecodeIngest(data)
			if err != nil {
				return "", err
			}
			return env.DocumentID, nil
		}
	}
}

// runStage is the shared bootstrap for the worker services: connect,
// provision, run the per-tier pools until a shutdown signal, then drain.
func runStage(service, stage string, buildProcessor func(logger *logging.Logger) (pipeline.Processor, error), metricsPort int) error {
	logger := newLogger(service)
	logger.Info("starting service",
		logging.Stage(stage),
		"nats_url", cfg.NATS.URL,
	)

	js, err := natsclient.NewJetStreamClient(natsConfig())
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer js.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provisionCtx, provisionCancel := context.WithTimeout(ctx, 30*time.Second)
	err = provisionStage(provisionCtx, js, stage)
	provisionCancel()
	if err != nil {
		return fmt.Errorf("provision stage %s: %w", stage, err)
	}

	connPool, err := newConnPool()
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer connPool.Close()

	emitter := audit.NewPublisher(connPool, logger, 2*time.Second)
	deadLetters := dlq.NewQueueWriter(connPool, logger)
	controller := delivery.NewController(connPool, emitter, deadLetters, logger, cfg.Pipeline.NakDelay)

	processor, err := buildProcessor(logger)
	if err != nil {
		return err
	}

	deduper := newDeduper(logger)
	defer deduper.Close()
	if _, ok := deduper.(dedup.NoOpDeduper); !ok {
		processor = dedup.NewProcessor(processor, deduper, logger)
	}

	group, err := worker.NewGroup(ctx, stage, tierWorkers(), func(ctx context.Context, tier priority.Tier) (messaging.Receiver, error) {
		return js.Receiver(ctx,
			messaging.StageStreamName(stage),
			messaging.TierConsumerName(stage, tier.String()),
		)
	}, processor, controller, identifyFor(stage), logger)
	if err != nil {
		return err
	}

	group.Start(ctx)
	logger.Info("worker pools started", logging.Stage(stage))

	metricsSrv := startMetricsServer(metricsPort, logger)

	waitForSignal()
	logger.Info("shutting down", logging.Stage(stage))

	cancel()
	group.Stop(cfg.Pipeline.DrainTimeout)
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	logger.Info("stopped", logging.Stage(stage))
	return nil
}

// startMetricsServer exposes /metrics and /healthz for the headless
// worker services. Port 0 disables it.
func startMetricsServer(port int, logger *logging.Logger) *http.Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", logging.Error(err))
		}
	}()
	logger.Info("metrics server listening", "addr", srv.Addr)
	return srv
}

// serveHTTP runs an HTTP server until a shutdown signal, then drains it.
func serveHTTP(srv *http.Server, logger *logging.Logger, onShutdown func()) error {
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", logging.Error(err))
			os.Exit(1)
		}
	}()

	waitForSignal()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if onShutdown != nil {
		onShutdown()
	}

	logger.Info("stopped")
	return nil
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// httpServer builds a server from the shared ServerConfig shape.
func httpServer(sc config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", sc.Port),
		Handler:      handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
}

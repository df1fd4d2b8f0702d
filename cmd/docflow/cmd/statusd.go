package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	natsclient "github.com/docflow-systems/docflow-stack/common/messaging/nats"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/statusd"
)

var statusdCmd = &cobra.Command{
	Use:   "statusd",
	Short: "Run the audit store and status API",
	Long: `statusd drains the broadcast status channel into the append-only
Postgres audit store and serves the document history API, including
operator reprocess requests.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStatusd()
	},
}

func init() {
	rootCmd.AddCommand(statusdCmd)
}

func runStatusd() error {
	logger := newLogger("statusd")
	logger.Info("starting service",
		"port", cfg.Statusd.Server.Port,
		"nats_url", cfg.NATS.URL,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	store, err := audit.NewStore(ctx, cfg.Postgres.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	client, err := natsclient.NewClient(natsConfig())
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer client.Close()

	sub := statusd.NewSubscriber(client, store, logger)
	if err := sub.Start(context.Background()); err != nil {
		return fmt.Errorf("start status subscriber: %w", err)
	}

	connPool, err := newConnPool()
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer connPool.Close()

	api := statusd.NewAPI(store, connPool, client, logger)
	srv := httpServer(cfg.Statusd.Server, statusd.NewRouter(api))

	return serveHTTP(srv, logger, func() {
		if err := sub.Stop(); err != nil {
			logger.Warn("unsubscribe failed", "error", err.Error())
		}
	})
}

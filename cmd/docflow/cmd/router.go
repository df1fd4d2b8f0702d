package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/destinations"
	"github.com/docflow-systems/docflow-stack/internal/notify"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
	"github.com/docflow-systems/docflow-stack/internal/routing"
)

var routerMetricsPort int

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the terminal routing workers",
	Long: `The router pulls classified documents off the per-tier route queues
and delivers each one to its destination chain: spreadsheet ledger,
archive index, webhooks or chat, with fallback to the next candidate
and an alert of last resort when every candidate fails.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStage("router", models.StageRoute, buildRouteProcessor, routerMetricsPort)
	},
}

func init() {
	routerCmd.Flags().IntVar(&routerMetricsPort, "metrics-port", 9103, "prometheus /metrics port, 0 disables")
	rootCmd.AddCommand(routerCmd)
}

func buildRouteProcessor(logger *logging.Logger) (pipeline.Processor, error) {
	dests, err := buildDestinations(logger)
	if err != nil {
		return nil, err
	}

	table := routing.NewTable(cfg.Routing.Rules, cfg.Routing.DefaultChain)
	router := routing.NewRouter(table, dests, alertChannel(), logger, cfg.Routing.DeliverTimeout)
	return routing.NewProcessor(router), nil
}

func buildDestinations(logger *logging.Logger) ([]destinations.Destination, error) {
	var dests []destinations.Destination

	sheet, err := destinations.NewSpreadsheet(cfg.Routing.Spreadsheet.Path, cfg.Routing.Spreadsheet.Sheet)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet ledger: %w", err)
	}
	dests = append(dests, sheet)

	archive, err := destinations.NewArchive(destinations.ArchiveConfig{
		URL:           cfg.Routing.Archive.URL,
		Username:      cfg.Routing.Archive.Username,
		Password:      cfg.Routing.Archive.Password,
		TLSSkipVerify: cfg.Routing.Archive.TLSSkipVerify,
		Index:         cfg.Routing.Archive.Index,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	dests = append(dests, archive)

	if cfg.Routing.ChatWebhook != "" {
		dests = append(dests, destinations.NewChat(cfg.Routing.ChatWebhook, cfg.Routing.DeliverTimeout))
	}

	for name, url := range cfg.Routing.Webhooks {
		dests = append(dests, destinations.NewWebhook(name, url, cfg.Routing.DeliverTimeout))
	}

	for _, d := range dests {
		logger.Info("destination registered", logging.Destination(d.Name()))
	}
	return dests, nil
}

// alertChannel builds the last-resort notifier. With a chat webhook
// configured alerts go there and to the log; otherwise the log alone.
func alertChannel() notify.Channel {
	logCh := notify.NewLogChannel(log.Printf)
	if cfg.Routing.ChatWebhook == "" {
		return logCh
	}
	return notify.NewMultiChannel(
		notify.NewSlackChannel(cfg.Routing.ChatWebhook, cfg.Routing.DeliverTimeout),
		logCh,
	)
}

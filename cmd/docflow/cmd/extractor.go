package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/extract"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

var extractorMetricsPort int

var extractorCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Run the text extraction workers",
	Long: `The extractor pulls ingested documents off the per-tier extract
queues, pulls text and entities out of them and publishes the result
to the classification queues.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStage("extractor", models.StageExtract, func(_ *logging.Logger) (pipeline.Processor, error) {
			return extract.NewProcessor(), nil
		}, extractorMetricsPort)
	},
}

func init() {
	extractorCmd.Flags().IntVar(&extractorMetricsPort, "metrics-port", 9101, "prometheus /metrics port, 0 disables")
	rootCmd.AddCommand(extractorCmd)
}

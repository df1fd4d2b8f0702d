package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/classify"
	"github.com/docflow-systems/docflow-stack/internal/pipeline"
)

var classifierMetricsPort int

var classifierCmd = &cobra.Command{
	Use:   "classifier",
	Short: "Run the document classification workers",
	Long: `The classifier pulls extracted documents off the per-tier classify
queues, assigns a document type and confidence, flags low-confidence
results for human review and publishes to the routing queues.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStage("classifier", models.StageClassify, func(_ *logging.Logger) (pipeline.Processor, error) {
			return classify.NewProcessor(nil, cfg.Classify.ConfidenceThreshold, cfg.Classify.VIPDomains), nil
		}, classifierMetricsPort)
	},
}

func init() {
	classifierCmd.Flags().IntVar(&classifierMetricsPort, "metrics-port", 9102, "prometheus /metrics port, 0 disables")
	rootCmd.AddCommand(classifierCmd)
}

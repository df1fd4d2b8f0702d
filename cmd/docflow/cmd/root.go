// Package cmd wires the docflow services into a single multi-command
// binary: one subcommand per service, sharing configuration and broker
// bootstrap code.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflow-systems/docflow-stack/common/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "DocFlow priority document pipeline",
	Long: `docflow runs the services of the DocFlow stack: document intake,
text extraction, classification, routing and the audit/status API.

Each service is a subcommand; all of them share one configuration file
and DOCFLOW_* environment overrides.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus DOCFLOW_* env)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not load config: %v\n", err)
		os.Exit(1)
	}
}

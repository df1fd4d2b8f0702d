package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the fully resolved configuration as YAML: defaults, config
file values and DOCFLOW_* environment overrides merged together.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

package main

import (
	"os"

	"github.com/docflow-systems/docflow-stack/cmd/docflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

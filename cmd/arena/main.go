package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "arena",
		Short: "Arena runs live multi-model debates",
		Long: `Arena orchestrates debates between language models: round-robin
turns, a unanimous motion to end, peer voting, and crash recovery.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "arena.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newListCmd(),
		newShowCmd(),
		newExportCmd(),
		newFlagsCmd(),
		newRecoverCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

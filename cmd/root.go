// Package cmd defines the CLI surface of the automation scheduler service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation-scheduler",
		Short: "Schedules and executes browser automation runs.",
		Long: `automation-scheduler accepts browser automation run requests, dispatches
them with per-user serialization against persisted browser sessions and a
shared proxy pool, and records structured results for downstream CRM sync.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}

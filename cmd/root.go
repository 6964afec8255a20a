package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// Execute is the main entry point for the audit-core CLI.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = fmt.Sprintf(`{"version": "%s"}`, Version)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args) // Set the arguments
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "audit-core",
		Short: "audit-core orchestrates security audits of registered targets",
		Long: "audit-core is the orchestration service behind the audit dashboard: " +
			"it gates scans on entitlements, dispatches them to the execution engine, " +
			"and streams live telemetry back to viewers.",
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

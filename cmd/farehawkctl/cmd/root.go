// Package cmd implements the farehawkctl commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewCommand returns the root command for the farehawkctl CLI.
func NewCommand() (cmd *cobra.Command) {
	var verbose bool

	cmd = &cobra.Command{
		Use:          "farehawkctl",
		Short:        "FareHawk command line tools",
		Long:         `farehawkctl generates sample trips, detects anomalies in CSV files and loads trips into a FareHawk server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.AddCommand(
		NewGenerateCommand(),
		NewDetectCommand(),
		NewLoadCommand(),
	)

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	return cmd
}

package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/fieldbus/cmd/dev/cmd"
)

var debug bool

func main() {
	root := &cobra.Command{
		Use:           "dev",
		Short:         "dev tasks for the fieldbus module",
		Long:          "Builds the netx cli and runs unit, lint and sim-backed integration checks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charm := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.DateTime,
				Prefix:          "dev",
			})
			charm.SetColorProfile(termenv.TrueColor)
			charm.SetLevel(log.InfoLevel)
			if debug {
				charm.SetLevel(log.DebugLevel)
				charm.SetReportCaller(true)
			}
			slog.SetDefault(slog.New(charm))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		cmd.BuildCmd(),
		cmd.ChangelogCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
		cmd.SimCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("task failed", "error", err)
		os.Exit(1)
	}
}

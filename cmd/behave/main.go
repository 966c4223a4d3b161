package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stokaro/behave/cmd/connection"
	"github.com/stokaro/behave/cmd/maintain"
	"github.com/stokaro/behave/cmd/migrate"
	"github.com/stokaro/behave/cmd/urlize"
)

func newRootCommand() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "behave",
		Short:         "Maintenance tool for behavior managed entities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every statement and strategy step")

	settings := &connection.Settings{}
	settings.Register(root)
	root.AddCommand(
		urlize.NewUrlizeCommand(),
		maintain.NewVerifyCommand(settings),
		maintain.NewRepairCommand(settings),
		migrate.NewMigrateCommand(settings),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

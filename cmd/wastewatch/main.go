package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bissquit/wastewatch/internal/cli"
	"github.com/bissquit/wastewatch/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "wastewatch",
		Short:   "WasteWatch - illegal dumping incident and crew dispatch service",
		Version: version.String(),
		Long: `WasteWatch ingests waste detections from a vision model, tracks incidents,
dispatches cleanup crews and keeps a compliance ledger of waste contractors.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to YAML config file (default: $WASTEWATCH_CONFIG)")

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.TokenCmd())
	rootCmd.AddCommand(cli.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package cli implements the wastewatch subcommands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/bissquit/wastewatch/internal/config"
)

// loadConfig reads the file named by --config, falling back to WASTEWATCH_CONFIG.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

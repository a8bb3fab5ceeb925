package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bissquit/wastewatch/internal/version"
)

// VersionCmd prints build information.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wastewatch "+version.String())
		},
	}
}

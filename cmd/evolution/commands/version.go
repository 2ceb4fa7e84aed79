package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/schema-evolution/internal/ui"
	"github.com/satishbabariya/schema-evolution/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(ui.Out, version.Get().FullString())
		},
	}
}

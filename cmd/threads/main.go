// Command threads renders thread projections from an exported annotation
// file without a running service.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "threads",
		Short:         "Build, filter and lay out annotation threads from a JSON export",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRenderCmd(), newWindowCmd(), newParseCmd(), newTokenCmd())
	return root
}

package cli

import (
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent-backend",
		Short: "Scoped workspace backends for AI agents",
	}

	root.AddCommand(
		ServeCmd(),
	)

	return root
}

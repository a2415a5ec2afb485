package main

import (
	"github.com/spf13/cobra"

	"github.com/Lina-go/backend-delfos-sub000/mcptool"
)

func newMCPCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ask_data tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := startApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			return mcptool.ServeStdio(a.runner.Engine())
		},
	}
}

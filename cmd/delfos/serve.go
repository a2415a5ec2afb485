package main

import (
	"github.com/spf13/cobra"

	"github.com/Lina-go/backend-delfos-sub000/server"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := startApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(a.runner.Engine(), a.runner, func(o *server.Options) {
				o.Addr = addr
				o.RequestTimeout = a.cfg.Timeouts.Generation + a.cfg.Timeouts.Execution
				o.Logger = a.logger.WithComponent("http")
			})
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

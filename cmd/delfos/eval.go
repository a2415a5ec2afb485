package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lina-go/backend-delfos-sub000/evaluation"
)

func newEvalCommand(flags *globalFlags) *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "eval <dataset.yaml>",
		Short: "Run a question dataset and report pass/fail per case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := evaluation.LoadDataset(args[0])
			if err != nil {
				return err
			}

			a, err := startApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := evaluation.Run(cmd.Context(), a.runner.Engine(), cases, func(o *evaluation.Options) {
				o.Parallelism = parallel
				o.Logger = a.logger.WithComponent("eval")
			})
			if err != nil {
				return err
			}
			report.Render(cmd.OutOrStdout())

			if failed := len(report.Results) - report.Passed(); failed > 0 {
				return fmt.Errorf("%d of %d cases failed", failed, len(report.Results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "cases resolved concurrently")
	return cmd
}

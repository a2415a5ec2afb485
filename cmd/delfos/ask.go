package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Lina-go/backend-delfos-sub000/engine"
)

func newAskCommand(flags *globalFlags) *cobra.Command {
	var (
		userID  string
		asJSON  bool
		maxRows int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := startApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			resp, err := a.runner.Engine().Process(cmd.Context(), engine.Request{
				UserID:  userID,
				Message: strings.Join(args, " "),
			})
			if err != nil {
				resp = engine.ErrorResponse("", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(resp); encErr != nil {
					return encErr
				}
			} else {
				printResponse(out, resp, maxRows)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "conversation owner")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	cmd.Flags().IntVar(&maxRows, "max-rows", 20, "rows shown in the table")
	return cmd
}

func printResponse(w io.Writer, resp *engine.Response, maxRows int) {
	if resp.Insight != "" {
		fmt.Fprintln(w, resp.Insight)
		fmt.Fprintln(w)
	}
	if resp.ClarificationQuestion != "" {
		fmt.Fprintln(w, resp.ClarificationQuestion)
	}

	if len(resp.Data) > 0 {
		columns := resp.Columns
		if len(columns) == 0 {
			for k := range resp.Data[0] {
				columns = append(columns, k)
			}
			sort.Strings(columns)
		}

		t := table.NewWriter()
		t.SetOutputMirror(w)
		header := make(table.Row, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		t.AppendHeader(header)
		for i, row := range resp.Data {
			if maxRows > 0 && i >= maxRows {
				break
			}
			r := make(table.Row, len(columns))
			for j, c := range columns {
				r[j] = row[c]
			}
			t.AppendRow(r)
		}
		if maxRows > 0 && len(resp.Data) > maxRows {
			t.AppendFooter(table.Row{fmt.Sprintf("%d of %d rows", maxRows, len(resp.Data))})
		}
		style := table.StyleLight
		style.Options.DrawBorder = false
		t.SetStyle(style)
		t.Render()
	}

	if resp.OutputKind != "" {
		fmt.Fprintf(w, "\nChart: %s", resp.OutputKind)
		if resp.Title != "" {
			fmt.Fprintf(w, " (%s)", resp.Title)
		}
		fmt.Fprintln(w)
	}
	if resp.SQL != "" {
		fmt.Fprintf(w, "\nSQL:\n%s\n", resp.SQL)
	}
	if resp.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", resp.Error)
		for _, issue := range resp.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}
}

package main

import (
	"context"
	"errors"
	"time"

	"crm-platform/internal/app"
	"crm-platform/internal/reporting"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pool sizes and per-agent fetch calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := statsRequest(from, to)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Reports.LeadStats(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day (inclusive), YYYY-MM-DD")
	return cmd
}

func statsRequest(from, to string) (reporting.LeadStatsRequest, error) {
	var req reporting.LeadStatsRequest
	if from == "" && to == "" {
		return req, nil
	}
	f, err1 := time.Parse(time.DateOnly, from)
	t, err2 := time.Parse(time.DateOnly, to)
	if err1 != nil || err2 != nil {
		return req, errors.New("--from and --to must both be YYYY-MM-DD")
	}
	req.Range = reporting.TimeRange{From: f, To: t.AddDate(0, 0, 1)}
	return req, nil
}

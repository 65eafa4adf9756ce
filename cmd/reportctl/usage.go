package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/pkg/reportclient"
)

const defaultURL = "http://localhost:8090"

func newUsageCmd() *cobra.Command {
	var (
		baseURL string
		since   time.Duration
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the usage ledger of a running reportd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := reportclient.New(baseURL, nil)
			if err != nil {
				return err
			}
			summary, err := client.UsageSummary(cmd.Context(), since)
			if err != nil {
				return fmt.Errorf("failed to fetch summary: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Requests\t%d\n", summary.Requests)
			fmt.Fprintf(w, "Succeeded\t%d\n", summary.Succeeded)
			fmt.Fprintf(w, "Failed\t%d\n", summary.Failed)
			fmt.Fprintf(w, "Report chars\t%d\n", summary.ReportChars)
			fmt.Fprintf(w, "Avg duration\t%.1f ms\n", summary.AvgDurationMs)
			outcomes := make([]string, 0, len(summary.ByOutcome))
			for outcome := range summary.ByOutcome {
				outcomes = append(outcomes, string(outcome))
			}
			sort.Strings(outcomes)
			for _, outcome := range outcomes {
				fmt.Fprintf(w, "  %s\t%d\n", outcome, summary.ByOutcome[reportclient.Outcome(outcome)])
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if limit <= 0 {
				return nil
			}

			entries, err := client.RecentUsage(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "Time\tEndpoint\tOutcome\tStatus\tChars\tDuration")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%dms\n",
					e.CreatedAt.Local().Format(time.RFC822),
					e.Endpoint,
					e.Outcome,
					e.UpstreamStatus,
					e.ReportChars,
					e.DurationMs,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultURL, "reportd base URL")
	cmd.Flags().DurationVar(&since, "since", 0, "only count entries newer than this (0 for all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "recent entries to list (0 to skip)")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/internal/streamagg"
)

func newAggregateCmd() *cobra.Command {
	var (
		chunk     int
		showStats bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate [file]",
		Short: "Aggregate a saved raw stream into its report text",
		Long: `Reads a raw streamGenerateContent body from file, or stdin when no file
is given, and prints the aggregated text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var opts []streamagg.Option
			if chunk > 0 {
				opts = append(opts, streamagg.WithReadSize(chunk))
			}
			text, stats, err := streamagg.Aggregate(cmd.Context(), in, opts...)
			if showStats {
				writeStats(cmd.ErrOrStderr(), stats)
			}
			if err != nil {
				return fmt.Errorf("aggregate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVar(&chunk, "chunk", 0, "feed the stream in chunks of N bytes (0 uses the default read size)")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print aggregation counters to stderr")
	return cmd
}

func writeStats(w io.Writer, stats streamagg.Stats) {
	data, _ := json.Marshal(stats)
	fmt.Fprintln(w, string(data))
}

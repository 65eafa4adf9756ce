package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/pkg/reportclient"
)

func newStreamCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "stream [payload.json]",
		Short: "Stream a report from a running reportd",
		Long: `Posts the payload to <url>/api/report/stream and prints text deltas as
they arrive.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			client, err := reportclient.New(baseURL, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := client.Stream(cmd.Context(), payload, func(delta string) error {
				_, err := fmt.Fprint(out, delta)
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultURL, "reportd base URL")
	return cmd
}

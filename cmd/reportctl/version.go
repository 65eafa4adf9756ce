package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/internal/version"
)

func newVersionCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if full {
				fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include commit, build time and Go version")
	return cmd
}

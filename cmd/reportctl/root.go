package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the reportctl command tree. Commands take their output
// streams from cobra so tests can capture them.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reportctl",
		Short: "Tools for the report proxy",
		Long: `reportctl aggregates saved Gemini streamGenerateContent bodies, sends
one-shot report requests upstream, talks to a running reportd and scaffolds
reportd configuration.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newAggregateCmd(),
		newSendCmd(),
		newStreamCmd(),
		newUsageCmd(),
		newBenchCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/internal/bootstrap"
)

func newInitCmd() *cobra.Command {
	var opts bootstrap.InitOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write config/setting.ini and config/<env>/reportd.ini",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap.Init(opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config for environment %q under %s/config\n", envOrDefault(opts.Environment), rootOrDefault(opts.Root))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Root, "root", ".", "target directory")
	cmd.Flags().StringVar(&opts.Environment, "env", "dev", "environment name")
	cmd.Flags().StringVar(&opts.HTTPAddress, "http-address", "", "listen address (default :8090)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "gemini model")
	cmd.Flags().StringVar(&opts.LedgerDSN, "ledger", "", "ledger DSN: SQLite path, postgres:// URL or '-'")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	return cmd
}

func envOrDefault(env string) string {
	if env == "" {
		return "dev"
	}
	return env
}

func rootOrDefault(root string) string {
	if root == "" {
		return "."
	}
	return root
}

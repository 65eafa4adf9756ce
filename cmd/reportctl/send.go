package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/bootstrap"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/streamagg"
)

func newSendCmd() *cobra.Command {
	var (
		root      string
		model     string
		showStats bool
	)
	cmd := &cobra.Command{
		Use:   "send [payload.json]",
		Short: "Send a payload upstream and print the report",
		Long: `Forwards a generateContent payload (file, or stdin) to Gemini using the
reportd configuration in --root and prints the aggregated text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if !gjson.ValidBytes(payload) {
				return errors.New("payload is not valid JSON")
			}

			if err := config.LoadDotEnv(root); err != nil {
				return err
			}
			cfg, err := config.Load(root)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.GeminiModel = model
			}
			adapter, err := bootstrap.NewAdapter(cfg)
			if err != nil {
				return err
			}

			stream, err := adapter.StreamGenerateContent(cmd.Context(), payload)
			if err != nil {
				var upErr *gemini.UpstreamError
				if errors.As(err, &upErr) {
					fmt.Fprintln(cmd.ErrOrStderr(), string(upErr.Body))
				}
				return err
			}
			defer stream.Close()

			text, stats, err := streamagg.Aggregate(cmd.Context(), stream)
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
	cmd.Flags().StringVar(&root, "root", ".", "directory holding config/ and .env")
	cmd.Flags().StringVar(&model, "model", "", "override gemini_model")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print aggregation counters to stderr")
	return cmd
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(stdin)
}

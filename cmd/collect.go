package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickdigest/collector/internal/collector"
)

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one collection pass and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			col, err := collector.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer col.Close()

			return col.Run(ctx)
		},
	}
}

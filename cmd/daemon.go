package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/api"
	"github.com/quickdigest/collector/internal/collector"
	"github.com/quickdigest/collector/internal/scheduler"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run collection passes on a schedule with an ops HTTP server.",
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

			var srv *api.Server
			if cfg.Server.Port > 0 {
				srv = api.New(cfg.Server.Port, col.Store(), log)
				go func() {
					if err := srv.Start(); err != nil {
						log.Error("ops server failed", zap.Error(err))
					}
				}()
			}

			runPass := func(ctx context.Context) {
				if err := col.Run(ctx); err != nil {
					log.Error("collection pass failed", zap.Error(err))
				}
			}

			sched, err := scheduler.New(ctx, cfg.Daemon.Schedule, runPass, log)
			if err != nil {
				return err
			}

			// One pass right away; the schedule covers steady state.
			runPass(ctx)

			sched.Start()
			<-ctx.Done()
			log.Info("shutting down")
			sched.Stop()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("ops server shutdown failed", zap.Error(err))
				}
			}
			return nil
		},
	}
}

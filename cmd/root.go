// Package cmd wires the CLI: a one-shot collect command and a daemon mode
// that runs passes on a schedule.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quickdigest/collector/internal/config"
	"github.com/quickdigest/collector/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "News collector: fetch, enrich and store content from configured sources.",
		Long: `collector ingests content from aggregator sites, feeds and podcasts,
enriches it with model-generated summaries and classifications, and
maintains a rotating SQLite database with periodic snapshots.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newDaemonCmd())
	return cmd
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return &cfg, log, nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job queue worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workerCount > 0 {
			cfg.Queue.Workers = workerCount
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("worker pool starting",
			zap.Int("workers", cfg.Queue.Workers),
			zap.Duration("poll_interval", cfg.Queue.PollInterval))

		return env.Queue.Start(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "worker count (default from config)")
	rootCmd.AddCommand(workerCmd)
}

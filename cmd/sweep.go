package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spigell/intern-allocator/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close postings whose deadline has passed",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger, config := setup(logger.New)

		a, err := newApplication(ctx, config, logger)
		if err != nil {
			logger.Fatal("building the application", zap.Error(err))
		}
		defer a.Close()

		closed, err := a.sweeper.Sweep(ctx)
		if err != nil {
			a.Close()
			logger.Fatal("sweeping expired postings", zap.Error(err))
		}

		logger.Info("expired postings closed", zap.Int("count", len(closed)))
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

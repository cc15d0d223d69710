package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spigell/intern-allocator/internal/logger"
	"github.com/spigell/intern-allocator/internal/mcptools"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve allocation tools over MCP on stdin/stdout",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// stdout carries the protocol
		logger, config := setup(logger.NewStderr)

		a, err := newApplication(ctx, config, logger)
		if err != nil {
			logger.Fatal("building the application", zap.Error(err))
		}
		defer a.Close()

		tools := mcptools.New(a.orchestrator, a.submissions, config.Allocation.ManualTimeout, logger.Named("mcp"))
		if err := tools.Serve(ctx, version, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			a.Close()
			logger.Fatal("mcp server stopped", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

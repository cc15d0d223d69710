package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spigell/intern-allocator/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score <applicant-id> <posting-id>",
	Short: "Print the match score of an applicant for a posting without saving it",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		withApplication(func(ctx context.Context, a *application, logger *zap.Logger) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			score, err := a.submissions.Score(ctx, ids[0], ids[1])
			if err != nil {
				return err
			}

			return printJSON(map[string]any{"applicant_id": ids[0], "posting_id": ids[1], "score": score})
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <applicant-id> <posting-id>",
	Short: "Submit an application and store its score",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		withApplication(func(ctx context.Context, a *application, logger *zap.Logger) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			app, err := a.submissions.Submit(ctx, ids[0], ids[1])
			if err != nil {
				return err
			}

			logger.Info("application submitted", zap.Int64("application_id", app.ID), zap.Int("score", app.Score))
			return printJSON(app)
		})
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <application-id>",
	Short: "Confirm a shortlisted application as Auto-Allocated",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withApplication(func(ctx context.Context, a *application, _ *zap.Logger) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			app, err := a.submissions.Confirm(ctx, ids[0])
			if err != nil {
				return err
			}

			return printJSON(app)
		})
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd, applyCmd, confirmCmd)
}

// withApplication builds the application, runs fn and exits non-zero on failure.
func withApplication(fn func(ctx context.Context, a *application, logger *zap.Logger) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup(logger.New)

	a, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}

	err = fn(ctx, a, logger)
	a.Close()
	if err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

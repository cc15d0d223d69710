package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/logger"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	PromptYes          = "Yes"
	PromptNo           = "No"
	PromptShowPostings = "Show postings"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Run one allocation cycle now",
	Run: func(cmd *cobra.Command, _ []string) {
		allocate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before shortlisting")
	allocateCmd.Flags().Bool("with-expiry", false, "close expired postings before allocating")
}

func allocate(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup(logger.New)

	a, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer a.Close()

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	withExpiry, _ := cmd.Flags().GetBool("with-expiry")

	if !autoApprove {
		proceed, err := confirmAllocation(ctx, a)
		if err != nil {
			a.Close()
			logger.Fatal("prompt failed", zap.Error(err))
		}
		if !proceed {
			logger.Info("allocation cancelled")
			return
		}
	}

	report, err := runAllocation(ctx, a, config.Allocation.ManualTimeout, withExpiry)
	if err != nil {
		a.Close()
		if errors.Is(err, cycle.ErrCycleBusy) {
			logger.Fatal("another allocation cycle is in progress, try again later", zap.Error(err))
		}
		logger.Fatal("allocation failed", zap.Error(err))
	}

	logger.Info("allocation finished",
		zap.String("run_id", report.RunID),
		zap.Int("postings_processed", report.PostingsProcessed),
		zap.Int("postings_failed", report.PostingsFailed),
		zap.Int("total_shortlisted", report.TotalShortlisted),
		zap.Int("expired", len(report.Expired)),
	)
}

// runAllocation runs one manual cycle bounded by timeout.
func runAllocation(ctx context.Context, a *application, timeout time.Duration, withExpiry bool) (*cycle.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := a.orchestrator.RunCycle(ctx, cycle.TriggerManual, withExpiry)
	if err != nil {
		if report != nil {
			return report, fmt.Errorf("after %d postings (%d shortlisted): %w",
				report.PostingsProcessed, report.TotalShortlisted, err)
		}
		return nil, err
	}
	return report, nil
}

// confirmAllocation asks the operator until they answer yes or no.
func confirmAllocation(ctx context.Context, a *application) (bool, error) {
	prompt := promptui.Select{
		Label: "Shortlist candidates for all open postings?",
		Items: []string{PromptYes, PromptNo, PromptShowPostings},
	}

	for {
		_, result, err := prompt.Run()
		if err != nil {
			return false, err
		}

		switch result {
		case PromptYes:
			return true, nil
		case PromptNo:
			return false, nil
		case PromptShowPostings:
			postings, err := a.store.ListAllocatable(ctx)
			if err != nil {
				return false, err
			}
			if len(postings) == 0 {
				fmt.Println("no postings with openings")
			}
			for _, p := range postings {
				fmt.Printf("%d %s / %s / openings: %d\n", p.ID, p.Title, p.Type, p.Openings)
			}
		}
	}
}

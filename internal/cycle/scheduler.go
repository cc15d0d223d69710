package cycle

import (
	"context"
	"time"

	"github.com/spigell/intern-allocator/internal/utils"
	"go.uber.org/zap"
)

// DefaultInterval runs a cycle at the top of every hour.
const DefaultInterval = time.Hour

type cycleRunner interface {
	RunCycle(ctx context.Context, trigger Trigger, includeExpiry bool) (*Report, error)
}

// Scheduler triggers a full cycle on every interval boundary.
type Scheduler struct {
	runner   cycleRunner
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
}

func NewScheduler(runner cycleRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		wait:     utils.WaitFor,
	}
}

// Run blocks until ctx is cancelled. A started cycle is never cancelled by ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := utils.NextTick(now, s.interval)
		s.logger.Debug("waiting for next cycle", zap.Time("at", next))

		if err := s.wait(ctx, next.Sub(now)); err != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}

		// the cycle outcome is logged by the orchestrator
		_, _ = s.runner.RunCycle(context.WithoutCancel(ctx), TriggerScheduled, true)
	}
}

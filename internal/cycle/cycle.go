package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/lock"
	"github.com/spigell/intern-allocator/internal/logger"
	"go.uber.org/zap"
)

// Trigger tells what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ErrCycleBusy is returned when the cycle lock could not be taken in time.
var ErrCycleBusy = errors.New("another allocation cycle is running")

// Recorder receives cycle metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordCycle(trigger, outcome string, d time.Duration)
	RecordShortlisted(n int)
	RecordPostingFailure()
	RecordExpired(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordCycle(string, string, time.Duration) {}
func (nopRecorder) RecordShortlisted(int)                     {}
func (nopRecorder) RecordPostingFailure()                     {}
func (nopRecorder) RecordExpired(int)                         {}

// Report summarises one cycle.
type Report struct {
	RunID             string                  `json:"run_id"`
	Trigger           Trigger                 `json:"trigger"`
	IncludeExpiry     bool                    `json:"include_expiry"`
	Expired           []internship.PostingRef `json:"expired,omitempty"`
	PostingsProcessed int                     `json:"postings_processed"`
	PostingsFailed    int                     `json:"postings_failed"`
	TotalShortlisted  int                     `json:"total_shortlisted"`
	Phases            []Status                `json:"phases"`
	StartedAt         time.Time               `json:"started_at"`
	FinishedAt        time.Time               `json:"finished_at"`
}

// Orchestrator runs expiry and allocation as one mutually exclusive cycle.
type Orchestrator struct {
	sweeper   sweeper
	postings  internship.PostingStore
	allocator allocator
	locker    lock.Locker
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Sweeper   sweeper
	Postings  internship.PostingStore
	Allocator allocator
	Locker    lock.Locker
	Recorder  Recorder
	Logger    *zap.Logger
}

func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		sweeper:   deps.Sweeper,
		postings:  deps.Postings,
		allocator: deps.Allocator,
		locker:    deps.Locker,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if o.locker == nil {
		o.locker = lock.NewLocal()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// RunCycle acquires the cycle lock and runs the phases in order. Only a lock
// failure or a failing critical phase returns an error; the report is always
// returned with whatever was done.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger Trigger, includeExpiry bool) (*Report, error) {
	report := &Report{
		RunID:         uuid.NewString(),
		Trigger:       trigger,
		IncludeExpiry: includeExpiry,
		StartedAt:     o.now(),
	}
	log := logger.WithCycleFields(o.logger, report.RunID, string(trigger))

	release, err := o.locker.Acquire(ctx)
	if err != nil {
		report.FinishedAt = o.now()
		o.recorder.RecordCycle(string(trigger), "busy", report.FinishedAt.Sub(report.StartedAt))
		log.Warn("cycle skipped", zap.Error(err))
		return report, fmt.Errorf("%w: %w", ErrCycleBusy, err)
	}
	defer release()

	log.Info("cycle started", zap.Bool("include_expiry", includeExpiry))

	phases := []Phase{
		NewExpiry(o.sweeper),
		NewAllocation(o.postings, o.allocator, o.recorder, log),
	}
	if !includeExpiry {
		DisableByName(phases, PhaseExpiry, "not requested for this trigger")
	}
	report.Phases = Describe(phases)

	runErr := o.run(ctx, log, phases, report)

	report.FinishedAt = o.now()
	outcome := "success"
	if runErr != nil {
		outcome = "failure"
	}
	o.recorder.RecordCycle(string(trigger), outcome, report.FinishedAt.Sub(report.StartedAt))
	o.recorder.RecordExpired(len(report.Expired))

	fields := []zap.Field{
		zap.Int("postings_processed", report.PostingsProcessed),
		zap.Int("postings_failed", report.PostingsFailed),
		zap.Int("total_shortlisted", report.TotalShortlisted),
		zap.Int("expired", len(report.Expired)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	}
	if runErr != nil {
		log.Error("cycle failed", append(fields, zap.Error(runErr))...)
		return report, runErr
	}

	log.Info("cycle finished", fields...)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, phases []Phase, report *Report) error {
	for i, phase := range phases {
		phaseLog := log.With(zap.String(logger.FieldPhase, phase.Name()))

		if !phase.IsEnabled() {
			phaseLog.Debug("phase disabled", zap.String("reason", report.Phases[i].Reason))
			continue
		}

		step, err := phase.Run(ctx, report)
		if err != nil {
			report.Phases[i].Error = err.Error()
			if phase.Critical() {
				return fmt.Errorf("%s: %w", phase.Name(), err)
			}
			phaseLog.Error("phase failed, continuing", zap.Error(err))
			continue
		}

		phaseLog.Info("phase step",
			zap.Int("considered", step.Considered),
			zap.Int("changed", step.Changed),
			zap.Int("failed", step.Failed),
		)
	}

	return nil
}

// DisableByName marks a phase with the provided name as disabled while keeping it in the list.
func DisableByName(phases []Phase, name, reason string) {
	for _, phase := range phases {
		if phase.Name() == name {
			phase.Disable(reason)
		}
	}
}

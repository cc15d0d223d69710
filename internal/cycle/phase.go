package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/logger"
	"go.uber.org/zap"
)

const (
	PhaseExpiry     = "expiry"
	PhaseAllocation = "allocation"
)

// Phase is a single step of an allocation cycle.
type Phase interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool
	// Critical phases abort the cycle when they fail.
	Critical() bool

	Run(ctx context.Context, report *Report) (Step, error)
}

// Step describes the result of executing a phase.
type Step struct {
	Considered int
	Changed    int
	Failed     int
}

// Status represents runtime information about a phase.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

func (t *toggle) disabledReason() string { return t.reason }

type sweeper interface {
	Sweep(ctx context.Context) ([]internship.PostingRef, error)
}

type expiryPhase struct {
	toggle
	sweeper sweeper
}

// NewExpiry creates the phase that closes postings past their deadline.
func NewExpiry(s sweeper) Phase {
	return &expiryPhase{sweeper: s}
}

func (p *expiryPhase) Name() string { return PhaseExpiry }

func (p *expiryPhase) Critical() bool { return false }

func (p *expiryPhase) Run(ctx context.Context, report *Report) (Step, error) {
	closed, err := p.sweeper.Sweep(ctx)
	if err != nil {
		return Step{}, err
	}

	report.Expired = append(report.Expired, closed...)
	return Step{Considered: len(closed), Changed: len(closed)}, nil
}

type allocator interface {
	Allocate(ctx context.Context, posting internship.Posting) (int, error)
}

type allocationPhase struct {
	toggle
	postings  internship.PostingStore
	allocator allocator
	recorder  Recorder
	logger    *zap.Logger
}

// NewAllocation creates the phase that runs the allocation batch for every open posting.
func NewAllocation(postings internship.PostingStore, a allocator, recorder Recorder, log *zap.Logger) Phase {
	if log == nil {
		log = zap.NewNop()
	}
	return &allocationPhase{postings: postings, allocator: a, recorder: recorder, logger: log}
}

func (p *allocationPhase) Name() string { return PhaseAllocation }

func (p *allocationPhase) Critical() bool { return true }

func (p *allocationPhase) Run(ctx context.Context, report *Report) (Step, error) {
	postings, err := p.postings.ListAllocatable(ctx)
	if err != nil {
		return Step{}, fmt.Errorf("listing open postings: %w", err)
	}

	step := Step{Considered: len(postings)}
	for _, posting := range postings {
		if err := ctx.Err(); err != nil {
			return step, fmt.Errorf("cycle interrupted after %d of %d postings: %w",
				report.PostingsProcessed+report.PostingsFailed, len(postings), err)
		}

		n, err := p.allocator.Allocate(ctx, posting)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return step, fmt.Errorf("cycle interrupted at posting %d: %w", posting.ID, err)
			}

			report.PostingsFailed++
			step.Failed++
			p.recorder.RecordPostingFailure()
			p.logger.Error("allocating posting", logger.PostingField(posting.ID), zap.Error(err))
			continue
		}

		report.PostingsProcessed++
		report.TotalShortlisted += n
		step.Changed += n
		p.recorder.RecordShortlisted(n)

		if n > 0 {
			p.logger.Info("posting allocated", logger.PostingField(posting.ID), zap.Int("shortlisted", n))
		}
	}

	return step, nil
}

// Describe returns status entries for the provided phases.
func Describe(phases []Phase) []Status {
	statuses := make([]Status, 0, len(phases))
	for _, phase := range phases {
		s := Status{Name: phase.Name(), Enabled: phase.IsEnabled()}
		if t, ok := phase.(interface{ disabledReason() string }); ok {
			s.Reason = t.disabledReason()
		}
		statuses = append(statuses, s)
	}
	return statuses
}

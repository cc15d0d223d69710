package allocation

import (
	"context"
	"fmt"

	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/logger"
	"github.com/spigell/intern-allocator/internal/notify"
	"go.uber.org/zap"
)

// Batch allocates slots for a single posting against the store.
type Batch struct {
	store    internship.ApplicationStore
	notifier notify.Notifier
	logger   *zap.Logger
	// AccountCapacity subtracts slots already held by earlier allocations.
	AccountCapacity bool
}

func NewBatch(store internship.ApplicationStore, notifier notify.Notifier, logger *zap.Logger) *Batch {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Batch{
		store:           store,
		notifier:        notifier,
		logger:          logger,
		AccountCapacity: true,
	}
}

// Allocate shortlists the best pending applications of the posting and returns how many were written.
func (b *Batch) Allocate(ctx context.Context, posting internship.Posting) (int, error) {
	log := b.logger.With(logger.PostingField(posting.ID))

	if posting.Openings <= 0 {
		log.Debug("skipping posting", zap.String("reason", "no openings"))
		return 0, nil
	}
	if err := posting.CheckQuota(); err != nil {
		return 0, err
	}

	candidates, err := b.store.ListPendingCandidates(ctx, posting.ID)
	if err != nil {
		return 0, fmt.Errorf("listing pending applications: %w", err)
	}
	if len(candidates) == 0 {
		log.Debug("skipping posting", zap.String("reason", "no pending applications"))
		return 0, nil
	}

	var allocated map[internship.Category]int
	if b.AccountCapacity {
		allocated, err = b.store.AllocatedByCategory(ctx, posting.ID)
		if err != nil {
			return 0, fmt.Errorf("counting allocated slots: %w", err)
		}
	}

	plan := Select(candidates, posting.Openings, posting.ReservedQuota, allocated)

	log.Debug("selection plan",
		zap.Int("pending", len(candidates)),
		zap.Int("capacity", plan.Capacity),
		zap.Any("reserved", plan.Reserved),
		zap.Int("merit", plan.Merit),
	)

	if len(plan.Selected) == 0 {
		return 0, nil
	}

	written, err := b.store.MarkShortlisted(ctx, plan.Selected)
	if err != nil {
		return 0, fmt.Errorf("writing shortlist: %w", err)
	}

	if len(written) != len(plan.Selected) {
		log.Warn("some selected applications were no longer pending",
			zap.Int("selected", len(plan.Selected)),
			zap.Int("written", len(written)),
		)
	}

	byID := make(map[int64]internship.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ApplicationID] = c
	}
	for _, id := range written {
		c := byID[id]
		notify.Send(ctx, b.notifier, log, notify.Notification{
			Event:         notify.EventShortlisted,
			ApplicationID: id,
			ApplicantID:   c.ApplicantID,
			PostingID:     posting.ID,
			Status:        internship.StatusShortlisted,
			Score:         c.Score,
			Message:       fmt.Sprintf("You have been shortlisted for %s.", posting.Title),
		})
	}

	return len(written), nil
}

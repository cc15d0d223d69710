package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

// Sweeper closes postings whose deadline has passed.
type Sweeper struct {
	store  internship.PostingStore
	logger *zap.Logger
	now    func() time.Time
}

func New(store internship.PostingStore, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, logger: logger, now: time.Now}
}

// Sweep closes every Active posting with a deadline before now in one bulk update.
// Running it again without new expired postings changes nothing.
func (s *Sweeper) Sweep(ctx context.Context) ([]internship.PostingRef, error) {
	closed, err := s.store.CloseExpired(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("closing expired postings: %w", err)
	}

	for _, p := range closed {
		s.logger.Info("posting expired", zap.Int64("posting_id", p.ID), zap.String("title", p.Title))
	}

	return closed, nil
}

package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*memory.Store
}

func (failingStore) CloseExpired(context.Context, time.Time) ([]internship.PostingRef, error) {
	return nil, errors.New("database is locked")
}

func TestSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	s := memory.New()
	s.PutPosting(internship.Posting{ID: 1, Title: "expired", Openings: 2, Deadline: &yesterday})
	s.PutPosting(internship.Posting{ID: 2, Title: "open", Openings: 2, Deadline: &tomorrow})
	s.PutPosting(internship.Posting{ID: 3, Title: "no deadline", Openings: 2})
	s.PutPosting(internship.Posting{ID: 4, Title: "already closed", Openings: 2, Deadline: &yesterday, Status: internship.PostingClosed})

	sweeper := New(s, nil)
	sweeper.now = func() time.Time { return now }

	closed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []internship.PostingRef{{ID: 1, Title: "expired"}}, closed)

	closed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)

	open, err := s.ListAllocatable(ctx)
	require.NoError(t, err)

	ids := make([]int64, 0, len(open))
	for _, p := range open {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestSweepError(t *testing.T) {
	t.Parallel()

	_, err := New(failingStore{memory.New()}, nil).Sweep(context.Background())
	require.Error(t, err)
}

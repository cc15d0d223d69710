package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func TestApplicantRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	want := internship.Applicant{
		ID:          1,
		Name:        "Meera",
		Skills:      []string{"Go", "SQL"},
		Course:      "B.Tech",
		Address:     "Bengaluru",
		Coordinates: &geo.Point{Lat: 12.97, Lon: 77.59},
		CGPA:        ptr(8.1),
		Category:    "OBC",
	}
	require.NoError(t, s.PutApplicant(ctx, want))

	got, err := s.GetApplicant(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = s.GetApplicant(ctx, 2)
	assert.ErrorIs(t, err, internship.ErrNotFound)
}

func TestPostingRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	deadline := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	want := internship.Posting{
		ID:            5,
		Title:         "Data Intern",
		Description:   "Pipelines",
		Requirements:  []string{"python"},
		Type:          "Onsite",
		Location:      "Pune",
		MinCGPA:       ptr(7),
		Openings:      3,
		ReservedQuota: internship.Quota{"SC": 1, "ST": 1},
		Deadline:      &deadline,
		Status:        internship.PostingActive,
	}
	require.NoError(t, s.PutPosting(ctx, want))

	got, err := s.GetPosting(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestListAllocatableAndCloseExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 1, Title: "Open", Openings: 1, Deadline: &future}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 2, Title: "Expired", Openings: 1, Deadline: &past}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 3, Title: "Full", Openings: 0}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 4, Title: "Closed", Openings: 2, Status: internship.PostingClosed}))

	closed, err := s.CloseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []internship.PostingRef{{ID: 2, Title: "Expired"}}, closed)

	closed, err = s.CloseExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, closed)

	postings, err := s.ListAllocatable(ctx)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, int64(1), postings[0].ID)
}

func TestListAllocatableKeepsPostingWithBadQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 1, Title: "Negative", Openings: 2, ReservedQuota: internship.Quota{"SC": -1}}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 2, Title: "Garbage", Openings: 2}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 3, Title: "Healthy", Openings: 1, ReservedQuota: internship.Quota{"SC": 1}}))
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET quota_reserved = '{"SC": "many"}' WHERE id = 2`)
	require.NoError(t, err)

	postings, err := s.ListAllocatable(ctx)
	require.NoError(t, err)
	require.Len(t, postings, 3)

	assert.Error(t, postings[0].QuotaErr)
	assert.Error(t, postings[1].QuotaErr)
	assert.NoError(t, postings[2].QuotaErr)
	assert.Equal(t, internship.Quota{"SC": 1}, postings[2].ReservedQuota)

	got, err := s.GetPosting(ctx, 1)
	require.NoError(t, err)
	assert.Error(t, got.CheckQuota())
}

func TestApplicationLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutApplicant(ctx, internship.Applicant{ID: 1, Category: "SC"}))
	require.NoError(t, s.PutApplicant(ctx, internship.Applicant{ID: 2}))
	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 9, Openings: 2}))

	first, err := s.CreateApplication(ctx, internship.Application{ApplicantID: 1, PostingID: 9, Score: 70})
	require.NoError(t, err)
	assert.Equal(t, internship.StatusPending, first.Status)

	_, err = s.CreateApplication(ctx, internship.Application{ApplicantID: 1, PostingID: 9, Score: 10})
	assert.ErrorIs(t, err, internship.ErrAlreadyApplied)

	second, err := s.CreateApplication(ctx, internship.Application{ApplicantID: 2, PostingID: 9, Score: 90})
	require.NoError(t, err)

	candidates, err := s.ListPendingCandidates(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []internship.Candidate{
		{ApplicationID: second.ID, ApplicantID: 2, Score: 90, Category: internship.CategoryGeneral},
		{ApplicationID: first.ID, ApplicantID: 1, Score: 70, Category: "SC"},
	}, candidates)

	written, err := s.MarkShortlisted(ctx, []int64{first.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, written)

	// already shortlisted rows are not written twice
	written, err = s.MarkShortlisted(ctx, []int64{first.ID})
	require.NoError(t, err)
	assert.Empty(t, written)

	counts, err := s.AllocatedByCategory(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, map[internship.Category]int{"SC": 1}, counts)

	require.NoError(t, s.UpdateScore(ctx, second.ID, 55))
	assert.ErrorIs(t, s.UpdateScore(ctx, 999, 1), internship.ErrNotFound)

	// MarkError leaves shortlisted rows alone
	require.NoError(t, s.MarkError(ctx, first.ID))
	require.NoError(t, s.MarkError(ctx, second.ID))

	got, err := s.GetApplication(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, internship.StatusError, got.Status)
	assert.Equal(t, 55, got.Score)

	confirmed, err := s.ConfirmAllocation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, internship.StatusAutoAllocated, confirmed.Status)

	_, err = s.ConfirmAllocation(ctx, second.ID)
	assert.ErrorIs(t, err, internship.ErrInvalidTransition)

	_, err = s.ConfirmAllocation(ctx, 999)
	assert.ErrorIs(t, err, internship.ErrNotFound)
}

func TestPutApplicationKeepsStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutApplication(ctx, internship.Application{ID: 4, ApplicantID: 1, PostingID: 1, Status: internship.StatusHired}))
	assert.ErrorIs(t, s.PutApplication(ctx, internship.Application{ID: 5, ApplicantID: 1, PostingID: 1}), internship.ErrAlreadyApplied)

	app, err := s.GetApplication(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, internship.StatusHired, app.Status)
}

func TestCandidateWithoutProfileCompetesOnMerit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutPosting(ctx, internship.Posting{ID: 1, Openings: 1}))
	require.NoError(t, s.PutApplication(ctx, internship.Application{ID: 7, ApplicantID: 42, PostingID: 1, Score: 66}))

	candidates, err := s.ListPendingCandidates(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []internship.Candidate{{ApplicationID: 7, ApplicantID: 42, Score: 66, Category: ""}}, candidates)
}

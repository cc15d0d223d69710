package internship

import (
	"context"
	"time"
)

type ApplicantStore interface {
	GetApplicant(ctx context.Context, id int64) (*Applicant, error)
}

type PostingStore interface {
	GetPosting(ctx context.Context, id int64) (*Posting, error)
	// ListAllocatable returns Active postings with at least one opening.
	ListAllocatable(ctx context.Context) ([]Posting, error)
	// CloseExpired marks Active postings with a deadline before now as Closed.
	CloseExpired(ctx context.Context, now time.Time) ([]PostingRef, error)
}

type ApplicationStore interface {
	GetApplication(ctx context.Context, id int64) (*Application, error)
	// CreateApplication persists a Pending application, returning ErrAlreadyApplied on a duplicate pair.
	CreateApplication(ctx context.Context, app Application) (*Application, error)
	ListPendingCandidates(ctx context.Context, postingID int64) ([]Candidate, error)
	// AllocatedByCategory counts applications occupying a slot of the posting.
	AllocatedByCategory(ctx context.Context, postingID int64) (map[Category]int, error)
	// MarkShortlisted promotes the given applications that are still Pending and returns the promoted ids.
	MarkShortlisted(ctx context.Context, ids []int64) ([]int64, error)
	// UpdateScore stores a recomputed score without touching the status.
	UpdateScore(ctx context.Context, id int64, score int) error
	// MarkError flags a Pending application whose rescoring failed.
	MarkError(ctx context.Context, id int64) error
	// ConfirmAllocation moves a Shortlisted application to Auto-Allocated.
	ConfirmAllocation(ctx context.Context, id int64) (*Application, error)
}

type Store interface {
	ApplicantStore
	PostingStore
	ApplicationStore
}

package internship

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/intern-allocator/internal/geo"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyApplied    = errors.New("already applied to this posting")
	ErrPostingClosed     = errors.New("posting is not accepting applications")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Category is the fairness classification of an applicant.
type Category string

const CategoryGeneral Category = "General"

// Status of an application.
type Status string

const (
	StatusPending          Status = "Pending"
	StatusShortlisted      Status = "Shortlisted"
	StatusHired            Status = "Hired"
	StatusRejected         Status = "Rejected"
	StatusOfferSent        Status = "Offer Sent"
	StatusConfirmationSent Status = "Confirmation Sent"
	StatusAutoAllocated    Status = "Auto-Allocated"
	StatusError            Status = "Error"
)

// ConsumesSlot reports whether an application in this status occupies one of the posting openings.
func (s Status) ConsumesSlot() bool {
	switch s {
	case StatusShortlisted, StatusOfferSent, StatusConfirmationSent, StatusAutoAllocated, StatusHired:
		return true
	default:
		return false
	}
}

// SlotStatuses lists every status for which ConsumesSlot is true.
func SlotStatuses() []Status {
	return []Status{StatusShortlisted, StatusOfferSent, StatusConfirmationSent, StatusAutoAllocated, StatusHired}
}

// PostingStatus of a job posting.
type PostingStatus string

const (
	PostingActive PostingStatus = "Active"
	PostingClosed PostingStatus = "Closed"
)

const postingTypeRemote = "Remote"

type Applicant struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Skills      []string   `json:"skills"`
	Course      string     `json:"course"`
	Address     string     `json:"address,omitempty"`
	Coordinates *geo.Point `json:"coordinates,omitempty"`
	CGPA        *float64   `json:"cgpa,omitempty"`
	Category    Category   `json:"category"`
}

type Posting struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Requirements  []string      `json:"requirements"`
	Type          string        `json:"type"`
	Location      string        `json:"location,omitempty"`
	Coordinates   *geo.Point    `json:"coordinates,omitempty"`
	MinCGPA       *float64      `json:"min_cgpa,omitempty"`
	Openings      int           `json:"openings"`
	ReservedQuota Quota         `json:"quota_reserved,omitempty"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
	Status        PostingStatus `json:"status"`
	// QuotaErr is set by stores when the stored quota could not be decoded.
	// The posting is still listed so one bad row does not hide the others.
	QuotaErr error `json:"-"`
}

// CheckQuota reports whether the reserved quota can be used for allocation.
func (p *Posting) CheckQuota() error {
	if p.QuotaErr != nil {
		return fmt.Errorf("invalid quota: %w", p.QuotaErr)
	}
	if err := p.ReservedQuota.Validate(p.Openings); err != nil {
		return fmt.Errorf("invalid quota: %w", err)
	}
	return nil
}

// IsRemote reports whether the posting is location independent.
func (p *Posting) IsRemote() bool {
	return strings.EqualFold(strings.TrimSpace(p.Type), postingTypeRemote)
}

// AcceptsApplications reports whether new applications may be submitted.
func (p *Posting) AcceptsApplications(now time.Time) bool {
	if p.Status != PostingActive {
		return false
	}
	return p.Deadline == nil || !p.Deadline.Before(now)
}

type Application struct {
	ID          int64  `json:"id"`
	ApplicantID int64  `json:"applicant_id"`
	PostingID   int64  `json:"posting_id"`
	Score       int    `json:"ai_score"`
	Status      Status `json:"status"`
}

// Candidate is a pending application joined with the applicant category.
type Candidate struct {
	ApplicationID int64
	ApplicantID   int64
	Score         int
	Category      Category
}

// PostingRef identifies a posting in bulk results.
type PostingRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

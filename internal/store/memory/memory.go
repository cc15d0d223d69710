package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spigell/intern-allocator/internal/internship"
)

type pair struct {
	applicant int64
	posting   int64
}

// Store keeps everything in process memory. It is used by tests and the demo driver.
type Store struct {
	mu           sync.Mutex
	applicants   map[int64]internship.Applicant
	postings     map[int64]internship.Posting
	applications map[int64]internship.Application
	pairs        map[pair]int64
	nextID       int64
}

func New() *Store {
	return &Store{
		applicants:   make(map[int64]internship.Applicant),
		postings:     make(map[int64]internship.Posting),
		applications: make(map[int64]internship.Application),
		pairs:        make(map[pair]int64),
	}
}

// PutApplicant inserts or replaces an applicant.
func (s *Store) PutApplicant(a internship.Applicant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applicants[a.ID] = a
}

// PutPosting inserts or replaces a posting.
func (s *Store) PutPosting(p internship.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = internship.PostingActive
	}
	s.postings[p.ID] = p
}

// PutApplication inserts an application with the given id and status, bypassing the Pending default.
func (s *Store) PutApplication(app internship.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{app.ApplicantID, app.PostingID}
	if existing, ok := s.pairs[key]; ok && existing != app.ID {
		return internship.ErrAlreadyApplied
	}
	if app.Status == "" {
		app.Status = internship.StatusPending
	}
	if app.ID > s.nextID {
		s.nextID = app.ID
	}
	s.applications[app.ID] = app
	s.pairs[key] = app.ID
	return nil
}

func (s *Store) GetApplicant(_ context.Context, id int64) (*internship.Applicant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.applicants[id]
	if !ok {
		return nil, internship.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetPosting(_ context.Context, id int64) (*internship.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.postings[id]
	if !ok {
		return nil, internship.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListAllocatable(_ context.Context) ([]internship.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]internship.Posting, 0, len(s.postings))
	for _, p := range s.postings {
		if p.Status == internship.PostingActive && p.Openings > 0 {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CloseExpired(_ context.Context, now time.Time) ([]internship.PostingRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []internship.PostingRef
	for id, p := range s.postings {
		if p.Status != internship.PostingActive || p.Deadline == nil || !p.Deadline.Before(now) {
			continue
		}
		p.Status = internship.PostingClosed
		s.postings[id] = p
		closed = append(closed, internship.PostingRef{ID: p.ID, Title: p.Title})
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	return closed, nil
}

func (s *Store) GetApplication(_ context.Context, id int64) (*internship.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, internship.ErrNotFound
	}
	return &app, nil
}

func (s *Store) CreateApplication(_ context.Context, app internship.Application) (*internship.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{app.ApplicantID, app.PostingID}
	if _, ok := s.pairs[key]; ok {
		return nil, internship.ErrAlreadyApplied
	}

	s.nextID++
	app.ID = s.nextID
	app.Status = internship.StatusPending
	s.applications[app.ID] = app
	s.pairs[key] = app.ID
	return &app, nil
}

func (s *Store) ListPendingCandidates(_ context.Context, postingID int64) ([]internship.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []internship.Candidate
	for _, app := range s.applications {
		if app.PostingID != postingID || app.Status != internship.StatusPending {
			continue
		}
		result = append(result, internship.Candidate{
			ApplicationID: app.ID,
			ApplicantID:   app.ApplicantID,
			Score:         app.Score,
			Category:      s.applicants[app.ApplicantID].Category,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ApplicationID < result[j].ApplicationID })
	return result, nil
}

func (s *Store) AllocatedByCategory(_ context.Context, postingID int64) (map[internship.Category]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[internship.Category]int)
	for _, app := range s.applications {
		if app.PostingID == postingID && app.Status.ConsumesSlot() {
			counts[s.applicants[app.ApplicantID].Category]++
		}
	}
	return counts, nil
}

func (s *Store) MarkShortlisted(_ context.Context, ids []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var written []int64
	for _, id := range ids {
		app, ok := s.applications[id]
		if !ok || app.Status != internship.StatusPending {
			continue
		}
		app.Status = internship.StatusShortlisted
		s.applications[id] = app
		written = append(written, id)
	}
	return written, nil
}

func (s *Store) UpdateScore(_ context.Context, id int64, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return internship.ErrNotFound
	}
	app.Score = score
	s.applications[id] = app
	return nil
}

func (s *Store) MarkError(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return internship.ErrNotFound
	}
	if app.Status == internship.StatusPending {
		app.Status = internship.StatusError
		s.applications[id] = app
	}
	return nil
}

func (s *Store) ConfirmAllocation(_ context.Context, id int64) (*internship.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, internship.ErrNotFound
	}
	if app.Status != internship.StatusShortlisted {
		return nil, internship.ErrInvalidTransition
	}
	app.Status = internship.StatusAutoAllocated
	s.applications[id] = app
	return &app, nil
}

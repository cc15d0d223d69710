package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/spigell/intern-allocator/internal/logger"
	"github.com/spigell/intern-allocator/internal/notify"
	"github.com/spigell/intern-allocator/internal/queue"
	"go.uber.org/zap"
)

type scorer interface {
	Score(ctx context.Context, applicant *internship.Applicant, posting *internship.Posting) int
}

// Service accepts applications and keeps their scores current.
type Service struct {
	store    internship.Store
	scorer   scorer
	geocoder geo.Geocoder
	queue    queue.Queue
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Deps struct {
	Store    internship.Store
	Scorer   scorer
	Geocoder geo.Geocoder
	Queue    queue.Queue
	Notifier notify.Notifier
	Logger   *zap.Logger
}

func New(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		scorer:   deps.Scorer,
		geocoder: deps.Geocoder,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if s.geocoder == nil {
		s.geocoder = geo.Nop{}
	}
	if s.queue == nil {
		s.queue = queue.Nop{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Score computes the match score without persisting anything.
func (s *Service) Score(ctx context.Context, applicantID, postingID int64) (int, error) {
	applicant, posting, err := s.load(ctx, applicantID, postingID)
	if err != nil {
		return 0, err
	}
	return s.scorer.Score(ctx, applicant, posting), nil
}

// Submit scores and stores a new Pending application.
func (s *Service) Submit(ctx context.Context, applicantID, postingID int64) (*internship.Application, error) {
	applicant, posting, err := s.load(ctx, applicantID, postingID)
	if err != nil {
		return nil, err
	}

	if !posting.AcceptsApplications(s.now()) {
		return nil, internship.ErrPostingClosed
	}

	score := s.scorer.Score(ctx, applicant, posting)

	app, err := s.store.CreateApplication(ctx, internship.Application{
		ApplicantID: applicant.ID,
		PostingID:   posting.ID,
		Score:       score,
	})
	if err != nil {
		if errors.Is(err, internship.ErrAlreadyApplied) {
			return nil, err
		}
		return nil, fmt.Errorf("saving application: %w", err)
	}

	log := s.logger.With(logger.ApplicationFields(app.ID, posting.ID)...)
	log.Info("application submitted", zap.Int("score", score))

	task := queue.Task{ApplicationID: app.ID, ApplicantID: applicant.ID, PostingID: posting.ID}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		log.Warn("enqueueing rescoring", zap.Error(err))
	}

	notify.Send(ctx, s.notifier, log, notify.Notification{
		Event:         notify.EventScored,
		ApplicationID: app.ID,
		ApplicantID:   applicant.ID,
		PostingID:     posting.ID,
		Status:        app.Status,
		Score:         score,
		Message:       fmt.Sprintf("New application for %s with match score %d.", posting.Title, score),
	})

	return app, nil
}

// Rescore is the queue handler. It recomputes the score of an existing
// application and marks it Error when that is not possible.
func (s *Service) Rescore(ctx context.Context, task queue.Task) error {
	log := s.logger.With(logger.ApplicationFields(task.ApplicationID, task.PostingID)...)

	applicant, posting, err := s.load(ctx, task.ApplicantID, task.PostingID)
	if err == nil {
		score := s.scorer.Score(ctx, applicant, posting)
		if err = s.store.UpdateScore(ctx, task.ApplicationID, score); err == nil {
			log.Info("application rescored", zap.Int("score", score))
			notify.Send(ctx, s.notifier, log, notify.Notification{
				Event:         notify.EventRescored,
				ApplicationID: task.ApplicationID,
				ApplicantID:   task.ApplicantID,
				PostingID:     task.PostingID,
				Score:         score,
			})
			return nil
		}
	}

	if markErr := s.store.MarkError(ctx, task.ApplicationID); markErr != nil {
		log.Error("marking application as failed", zap.Error(markErr))
	}
	return fmt.Errorf("rescoring application %d: %w", task.ApplicationID, err)
}

// Confirm finalises a shortlisted application.
func (s *Service) Confirm(ctx context.Context, applicationID int64) (*internship.Application, error) {
	app, err := s.store.ConfirmAllocation(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(logger.ApplicationFields(app.ID, app.PostingID)...)
	log.Info("allocation confirmed")

	notify.Send(ctx, s.notifier, log, notify.Notification{
		Event:         notify.EventConfirmed,
		ApplicationID: app.ID,
		ApplicantID:   app.ApplicantID,
		PostingID:     app.PostingID,
		Status:        app.Status,
		Score:         app.Score,
		Message:       "Your allocation has been confirmed.",
	})

	return app, nil
}

func (s *Service) load(ctx context.Context, applicantID, postingID int64) (*internship.Applicant, *internship.Posting, error) {
	applicant, err := s.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, nil, fmt.Errorf("applicant %d: %w", applicantID, err)
	}
	posting, err := s.store.GetPosting(ctx, postingID)
	if err != nil {
		return nil, nil, fmt.Errorf("posting %d: %w", postingID, err)
	}

	if applicant.Coordinates == nil && applicant.Address != "" {
		applicant.Coordinates = s.geocoder.Coordinates(ctx, applicant.Address)
	}
	if posting.Coordinates == nil && posting.Location != "" && !posting.IsRemote() {
		posting.Coordinates = s.geocoder.Coordinates(ctx, posting.Location)
	}

	return applicant, posting, nil
}

package notify

import (
	"context"

	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

type Event string

const (
	EventScored      Event = "application_scored"
	EventRescored    Event = "application_rescored"
	EventShortlisted Event = "application_shortlisted"
	EventConfirmed   Event = "allocation_confirmed"
)

type Notification struct {
	Event         Event             `json:"event"`
	ApplicationID int64             `json:"application_id"`
	ApplicantID   int64             `json:"applicant_id,omitempty"`
	PostingID     int64             `json:"posting_id,omitempty"`
	Status        internship.Status `json:"status,omitempty"`
	Score         int               `json:"score,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// Notifier delivers notifications to applicants or companies.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Log writes notifications to the logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		zap.String("event", string(n.Event)),
		zap.Int64("application_id", n.ApplicationID),
		zap.Int64("applicant_id", n.ApplicantID),
		zap.Int64("posting_id", n.PostingID),
		zap.String("status", string(n.Status)),
		zap.Int("score", n.Score),
		zap.String("message", n.Message),
	)
	return nil
}

// Send delivers n and only logs a failure. Callers never depend on delivery.
func Send(ctx context.Context, notifier Notifier, logger *zap.Logger, n Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil && logger != nil {
		logger.Warn("sending notification",
			zap.String("event", string(n.Event)),
			zap.Int64("application_id", n.ApplicationID),
			zap.Error(err),
		)
	}
}

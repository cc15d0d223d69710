package ai

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no similarity provider is configured.
var ErrUnavailable = errors.New("similarity service is unavailable")

// Similarity rates the semantic overlap of an applicant document and a posting
// document on a 0..100 scale.
type Similarity interface {
	Similarity(ctx context.Context, studentText, jobText string) (float64, error)
}

// Unavailable is used when similarity scoring is disabled.
type Unavailable struct{}

func (Unavailable) Similarity(context.Context, string, string) (float64, error) {
	return 0, ErrUnavailable
}

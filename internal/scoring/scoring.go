package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/spigell/intern-allocator/internal/ai"
	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

const (
	MaxScore = 100

	semanticWeight     = 0.5
	fallbackMaxPoints  = 25
	locationNearPoints = 30
	locationMidPoints  = 20
	locationFarPoints  = 10
	academicPoints     = 20

	nearDistanceKm = 20
	midDistanceKm  = 100

	DefaultSimilarityTimeout = 3 * time.Second
)

var errNaN = errors.New("similarity is not a number")

// Breakdown explains how a score was assembled.
type Breakdown struct {
	Semantic   float64 `json:"semantic"`
	Location   int     `json:"location"`
	Academic   int     `json:"academic"`
	Fallback   bool    `json:"fallback"`
	Similarity float64 `json:"similarity,omitempty"`
	Total      int     `json:"total"`
}

// Observer receives every computed breakdown.
type Observer interface {
	ObserveScore(b Breakdown)
}

// Scorer computes the fitness of an applicant for a posting.
type Scorer struct {
	similarity ai.Similarity
	timeout    time.Duration
	logger     *zap.Logger
	observer   Observer
}

type Option func(*Scorer)

// WithTimeout bounds the similarity call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scorer) { s.observer = o }
}

func New(similarity ai.Similarity, logger *zap.Logger, opts ...Option) *Scorer {
	if similarity == nil {
		similarity = ai.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scorer{
		similarity: similarity,
		timeout:    DefaultSimilarityTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the match score in [0, 100]. It never fails: an unusable
// similarity result falls back to keyword matching.
func (s *Scorer) Score(ctx context.Context, applicant *internship.Applicant, posting *internship.Posting) int {
	return s.ScoreDetailed(ctx, applicant, posting).Total
}

func (s *Scorer) ScoreDetailed(ctx context.Context, applicant *internship.Applicant, posting *internship.Posting) Breakdown {
	if applicant == nil {
		applicant = &internship.Applicant{}
	}
	if posting == nil {
		posting = &internship.Posting{}
	}

	var b Breakdown

	similarity, err := s.semantic(ctx, applicant, posting)
	if err != nil {
		s.logger.Debug("similarity unavailable, using keyword fallback",
			zap.Int64("applicant_id", applicant.ID),
			zap.Int64("posting_id", posting.ID),
			zap.Error(err),
		)
		b.Fallback = true
		b.Semantic = KeywordScore(applicant.Skills, posting.Requirements)
	} else {
		b.Similarity = similarity
		b.Semantic = similarity * semanticWeight
	}

	b.Location = LocationScore(applicant, posting)
	b.Academic = AcademicScore(applicant.CGPA, posting.MinCGPA)

	total := int(math.Floor(b.Semantic + float64(b.Location) + float64(b.Academic)))
	b.Total = clamp(total, 0, MaxScore)

	if s.observer != nil {
		s.observer.ObserveScore(b)
	}

	return b
}

func (s *Scorer) semantic(ctx context.Context, applicant *internship.Applicant, posting *internship.Posting) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	similarity, err := s.similarity.Similarity(ctx, StudentText(applicant), JobText(posting))
	if err != nil {
		return 0, err
	}
	if math.IsNaN(similarity) {
		return 0, errNaN
	}

	return math.Max(0, math.Min(MaxScore, similarity)), nil
}

// StudentText is the applicant document compared by the similarity service.
func StudentText(a *internship.Applicant) string {
	return strings.Join(a.Skills, ", ") + ". " + a.Course + "."
}

// JobText is the posting document compared by the similarity service.
func JobText(p *internship.Posting) string {
	return strings.Join(p.Requirements, ", ") + ". " + p.Description + "."
}

// KeywordScore awards up to 25 points for the share of requirements found in any skill.
func KeywordScore(skills, requirements []string) float64 {
	if len(requirements) == 0 {
		return fallbackMaxPoints
	}

	lowered := make([]string, 0, len(skills))
	for _, skill := range skills {
		lowered = append(lowered, strings.ToLower(skill))
	}

	matches := 0
	for _, req := range requirements {
		req = strings.ToLower(req)
		for _, skill := range lowered {
			if strings.Contains(skill, req) {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(len(requirements)) * fallbackMaxPoints
}

// LocationScore rewards remote postings and nearby applicants.
func LocationScore(applicant *internship.Applicant, posting *internship.Posting) int {
	if posting.IsRemote() {
		return locationNearPoints
	}
	if applicant.Coordinates == nil || posting.Coordinates == nil {
		return 0
	}

	distance := geo.DistanceKm(*applicant.Coordinates, *posting.Coordinates)
	switch {
	case distance < nearDistanceKm:
		return locationNearPoints
	case distance < midDistanceKm:
		return locationMidPoints
	default:
		return locationFarPoints
	}
}

// AcademicScore awards the eligibility bonus when both grades are known.
func AcademicScore(cgpa, minCGPA *float64) int {
	if cgpa == nil || minCGPA == nil {
		return 0
	}
	if *cgpa >= *minCGPA {
		return academicPoints
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

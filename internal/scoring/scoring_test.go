package scoring

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSimilarity struct {
	value float64
	err   error
	block bool

	mu      sync.Mutex
	student string
	job     string
}

func (s *stubSimilarity) Similarity(ctx context.Context, studentText, jobText string) (float64, error) {
	s.mu.Lock()
	s.student, s.job = studentText, jobText
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.value, s.err
}

func f(v float64) *float64 { return &v }

// offsetNorth returns a point d kilometres north of p.
func offsetNorth(p geo.Point, d float64) *geo.Point {
	return &geo.Point{Lat: p.Lat + d/geo.EarthRadiusKm*180/math.Pi, Lon: p.Lon}
}

var origin = geo.Point{Lat: 12.9716, Lon: 77.5946}

func TestScoreSemanticPath(t *testing.T) {
	t.Parallel()

	sim := &stubSimilarity{value: 80}
	scorer := New(sim, nil)

	applicant := &internship.Applicant{
		Skills:      []string{"Go", "PostgreSQL"},
		Course:      "B.Tech CSE",
		Coordinates: &origin,
		CGPA:        f(8.1),
	}
	posting := &internship.Posting{
		Requirements: []string{"go", "sql"},
		Description:  "Backend internship",
		Type:         "On-site",
		Coordinates:  offsetNorth(origin, 5),
		MinCGPA:      f(7),
	}

	b := scorer.ScoreDetailed(context.Background(), applicant, posting)
	assert.False(t, b.Fallback)
	assert.Equal(t, 40.0, b.Semantic)
	assert.Equal(t, 30, b.Location)
	assert.Equal(t, 20, b.Academic)
	assert.Equal(t, 90, b.Total)

	assert.Equal(t, "Go, PostgreSQL. B.Tech CSE.", sim.student)
	assert.Equal(t, "go, sql. Backend internship.", sim.job)
}

func TestScoreReachesMaximum(t *testing.T) {
	t.Parallel()

	scorer := New(&stubSimilarity{value: 100}, nil)
	score := scorer.Score(context.Background(),
		&internship.Applicant{CGPA: f(9)},
		&internship.Posting{Type: "Remote", MinCGPA: f(6)},
	)
	assert.Equal(t, 100, score)
}

func TestScoreFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		similarity *stubSimilarity
	}{
		{name: "error", similarity: &stubSimilarity{err: errors.New("connection refused")}},
		{name: "nan", similarity: &stubSimilarity{value: math.NaN()}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			scorer := New(tc.similarity, nil)
			b := scorer.ScoreDetailed(context.Background(),
				&internship.Applicant{Skills: []string{"Advanced Python", "Docker"}},
				&internship.Posting{Requirements: []string{"python", "docker", "kubernetes", "aws"}, Type: "remote"},
			)

			assert.True(t, b.Fallback)
			assert.Equal(t, 12.5, b.Semantic)
			assert.Equal(t, 42, b.Total)
		})
	}
}

func TestScoreFallbackOnTimeout(t *testing.T) {
	t.Parallel()

	scorer := New(&stubSimilarity{block: true}, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	b := scorer.ScoreDetailed(context.Background(), &internship.Applicant{}, &internship.Posting{})
	require.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, b.Fallback)
	// no requirements yields the flat keyword score
	assert.Equal(t, 25, b.Total)
}

func TestScoreFallbackMaximum(t *testing.T) {
	t.Parallel()

	scorer := New(nil, nil)
	score := scorer.Score(context.Background(),
		&internship.Applicant{Skills: []string{"go"}, CGPA: f(9)},
		&internship.Posting{Requirements: []string{"Go"}, Type: "Remote", MinCGPA: f(9)},
	)
	assert.Equal(t, 75, score)
}

func TestScoreClampsSimilarity(t *testing.T) {
	t.Parallel()

	high := New(&stubSimilarity{value: 250}, nil).ScoreDetailed(context.Background(), &internship.Applicant{}, &internship.Posting{})
	assert.Equal(t, 50.0, high.Semantic)

	low := New(&stubSimilarity{value: -30}, nil).ScoreDetailed(context.Background(), &internship.Applicant{}, &internship.Posting{})
	assert.Equal(t, 0.0, low.Semantic)
	assert.Equal(t, 0, low.Total)
}

func TestScoreFloors(t *testing.T) {
	t.Parallel()

	score := New(&stubSimilarity{value: 59.9}, nil).Score(context.Background(), nil, nil)
	assert.Equal(t, 29, score)
}

func TestScoreBoundsProperty(t *testing.T) {
	t.Parallel()

	similarities := []simCase{{v: 0}, {v: 33.3}, {v: 100}, {err: true}}
	coords := []*geo.Point{nil, &origin, offsetNorth(origin, 50), offsetNorth(origin, 900)}
	cgpas := []*float64{nil, f(5), f(9.5)}
	types := []string{"Remote", "On-site", "Hybrid"}

	for _, s := range similarities {
		stub := &stubSimilarity{value: s.v}
		if s.err {
			stub.err = errors.New("down")
		}
		scorer := New(stub, nil)

		for _, ac := range coords {
			for _, pc := range coords {
				for _, cg := range cgpas {
					for _, typ := range types {
						score := scorer.Score(context.Background(),
							&internship.Applicant{Skills: []string{"go"}, Coordinates: ac, CGPA: cg},
							&internship.Posting{Requirements: []string{"go", "rust"}, Coordinates: pc, MinCGPA: f(7), Type: typ},
						)
						require.GreaterOrEqual(t, score, 0)
						require.LessOrEqual(t, score, MaxScore)
						if s.err {
							require.LessOrEqual(t, score, 75)
						}
					}
				}
			}
		}
	}
}

type simCase struct {
	v   float64
	err bool
}

func TestLocationScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		applicant *geo.Point
		posting   *geo.Point
		kind      string
		expect    int
	}{
		{name: "remote ignores coordinates", kind: "REMOTE", expect: 30},
		{name: "19 km", applicant: &origin, posting: offsetNorth(origin, 19), expect: 30},
		{name: "50 km", applicant: &origin, posting: offsetNorth(origin, 50), expect: 20},
		{name: "500 km", applicant: &origin, posting: offsetNorth(origin, 500), expect: 10},
		{name: "missing applicant", posting: &origin, expect: 0},
		{name: "missing posting", applicant: &origin, expect: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := LocationScore(
				&internship.Applicant{Coordinates: tc.applicant},
				&internship.Posting{Coordinates: tc.posting, Type: tc.kind},
			)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestAcademicScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20, AcademicScore(f(7), f(7)))
	assert.Equal(t, 0, AcademicScore(f(6.9), f(7)))
	assert.Equal(t, 0, AcademicScore(nil, f(7)))
	assert.Equal(t, 0, AcademicScore(f(7), nil))
}

func TestKeywordScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 25.0, KeywordScore(nil, nil))
	assert.Equal(t, 0.0, KeywordScore(nil, []string{"go"}))
	assert.Equal(t, 25.0, KeywordScore([]string{"GoLang"}, []string{"go"}))
	// requirement must be contained in the skill, not the other way around
	assert.Equal(t, 0.0, KeywordScore([]string{"go"}, []string{"golang"}))
}

type recordingObserver struct {
	mu  sync.Mutex
	got []Breakdown
}

func (r *recordingObserver) ObserveScore(b Breakdown) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, b)
}

func TestObserver(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	New(nil, nil, WithObserver(obs)).Score(context.Background(), &internship.Applicant{}, &internship.Posting{})

	require.Len(t, obs.got, 1)
	assert.True(t, obs.got[0].Fallback)
}

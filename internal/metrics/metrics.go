package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spigell/intern-allocator/internal/scoring"
)

const namespace = "intern_allocator"

// Metrics holds the allocator collectors. A nil *Metrics records nothing.
type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	shortlisted     prometheus.Counter
	postingFailures prometheus.Counter
	expired         prometheus.Counter
	scores          prometheus.Histogram
	scoreFallbacks  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Count of allocation cycles by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of allocation cycles.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"trigger"},
		),
		shortlisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shortlisted_total",
			Help:      "Count of applications moved to Shortlisted.",
		}),
		postingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posting_failures_total",
			Help:      "Count of postings skipped in a cycle because allocation failed.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_postings_total",
			Help:      "Count of postings closed by the expiry sweep.",
		}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scores",
			Help:      "Distribution of computed match scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		scoreFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_fallback_total",
			Help:      "Count of scores computed with the keyword fallback.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.cycles, m.cycleDuration, m.shortlisted, m.postingFailures, m.expired, m.scores, m.scoreFallbacks,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(trigger, outcome).Inc()
	m.cycleDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *Metrics) RecordShortlisted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.shortlisted.Add(float64(n))
}

func (m *Metrics) RecordPostingFailure() {
	if m == nil {
		return
	}
	m.postingFailures.Inc()
}

func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// ObserveScore implements scoring.Observer.
func (m *Metrics) ObserveScore(b scoring.Breakdown) {
	if m == nil {
		return
	}
	m.scores.Observe(float64(b.Total))
	if b.Fallback {
		m.scoreFallbacks.Inc()
	}
}

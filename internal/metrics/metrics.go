// Package metrics provides Prometheus metrics for the review engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	ReviewsStarted   prometheus.Counter
	ReviewsCompleted prometheus.Counter
	ReviewsCancelled prometheus.Counter

	RevisionsSubmitted prometheus.Counter
	VotesAccepted      prometheus.Counter
	VotesRejected      prometheus.Counter

	TagsCreated prometheus.Counter

	LockAcquisitions *prometheus.CounterVec
	LockTimeouts     *prometheus.CounterVec

	SweepRuns      prometheus.Counter
	SweepCompleted prometheus.Counter
}

// New creates and registers all collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReviewsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_reviews_started_total",
			Help: "Total number of reviews opened",
		}),
		ReviewsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_reviews_completed_total",
			Help: "Total number of reviews completed with a winning revision",
		}),
		ReviewsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_reviews_cancelled_total",
			Help: "Total number of reviews cancelled for lack of revisions",
		}),
		RevisionsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_revisions_submitted_total",
			Help: "Total number of candidate revisions submitted",
		}),
		VotesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_votes_accepted_total",
			Help: "Total number of votes recorded",
		}),
		VotesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_votes_rejected_total",
			Help: "Total number of duplicate votes rejected",
		}),
		TagsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_tags_created_total",
			Help: "Total number of tags created by the resolver",
		}),
		LockAcquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_lock_acquisitions_total",
			Help: "Total number of keyed lock acquisitions",
		}, []string{"scope"}),
		LockTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_lock_timeouts_total",
			Help: "Total number of keyed lock wait timeouts",
		}, []string{"scope"}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_sweep_runs_total",
			Help: "Total number of deadline sweeper passes",
		}),
		SweepCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "redline_sweep_completed_total",
			Help: "Total number of reviews closed by the deadline sweeper",
		}),
	}
}

// Package worker runs the deadline sweeper that closes overdue reviews.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"redline/internal/clock"
	"redline/internal/metrics"
)

type reviewCompleter interface {
	CompleteDueReviews(ctx context.Context, now time.Time, limit int) (int, error)
}

// Sweeper periodically completes reviews whose deadline has passed.
// Completion is idempotent per review, so sweeps may race manual closes
// and other sweeper instances safely.
type Sweeper struct {
	Service   reviewCompleter
	Clock     clock.Clock
	Interval  time.Duration
	BatchSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.RunOnce(ctx); err != nil {
			s.Logger.Error().Err(err).Msg("deadline sweep failed")
		}
	}
}

// RunOnce performs a single sweep pass.
func (s Sweeper) RunOnce(ctx context.Context) error {
	limit := s.BatchSize
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now()
	}

	completed, err := s.Service.CompleteDueReviews(ctx, now, limit)
	if err != nil {
		return err
	}

	if s.Metrics != nil {
		s.Metrics.SweepRuns.Inc()
		s.Metrics.SweepCompleted.Add(float64(completed))
	}
	if completed > 0 {
		s.Logger.Info().
			Int("completed", completed).
			Msg("deadline sweep closed reviews")
	}
	return nil
}

// Package app implements the review/revision resolution engine: the review
// lifecycle, revision tracking, the vote ledger, and tag resolution. All
// cross-caller invariants rest on keyed locks and store-level atomic
// updates, never on in-process mutexes — callers run across processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"redline/internal/clock"
	"redline/internal/lock"
	"redline/internal/metrics"
	"redline/internal/store"
	"redline/internal/util"
)

// Lock wait and lease bounds per scope. Leases auto-expire server-side so a crashed
// holder cannot wedge the key.
const (
	reviewLockWait  = 10 * time.Second
	reviewLockLease = 30 * time.Second
	voteLockWait    = 5 * time.Second
	voteLockLease   = 10 * time.Second
	tagLockWait     = 3 * time.Second
	tagLockLease    = 10 * time.Second
)

const defaultReviewWindow = 72 * time.Hour

type dataStore interface {
	GetPost(context.Context, string) (store.Post, error)
	UpdatePostContent(ctx context.Context, postID, title, body, status string, updatedAt time.Time) error

	InsertReview(context.Context, store.Review) error
	GetReview(context.Context, string) (store.Review, error)
	GetActiveReviewByPost(context.Context, string) (*store.Review, error)
	UpdateReviewStatus(ctx context.Context, reviewID, status string, winningRevisionID *string) error
	ListDueReviews(context.Context, time.Time, int) ([]store.Review, error)

	InsertRevision(context.Context, store.Revision) error
	GetRevision(context.Context, string) (store.Revision, error)
	ListRevisionsByReview(context.Context, string) ([]store.Revision, error)
	IncrementRevisionVoteCount(context.Context, string) error

	VoteExists(ctx context.Context, revisionID, voterID string) (bool, error)
	InsertVote(context.Context, store.Vote) error

	GetTagByName(context.Context, string) (*store.Tag, error)
	ListTagsByNames(context.Context, []string) ([]store.Tag, error)
	InsertTag(context.Context, store.Tag) error
	IncrementTagPostCounts(context.Context, []string) error
	DecrementTagPostCounts(context.Context, []string) error

	InsertReviewHistory(context.Context, store.ReviewHistoryEntry) error
	ListReviewHistory(context.Context, string) ([]store.ReviewHistoryEntry, error)
}

type keyedLock interface {
	WithLock(ctx context.Context, name string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}

type Service struct {
	store        dataStore
	locks        keyedLock
	clock        clock.Clock
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	reviewWindow time.Duration
}

func New(dataStore dataStore, locks keyedLock, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics, reviewWindow time.Duration) *Service {
	if reviewWindow <= 0 {
		reviewWindow = defaultReviewWindow
	}
	return &Service{
		store:        dataStore,
		locks:        locks,
		clock:        clk,
		logger:       logger,
		metrics:      m,
		reviewWindow: reviewWindow,
	}
}

// withLock maps a lock wait timeout onto the engine's typed error so
// callers can distinguish it from business outcomes. A timed-out call
// never held the lock and mutated nothing.
func (s *Service) withLock(ctx context.Context, scope, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	err := s.locks.WithLock(ctx, key, wait, lease, func(ctx context.Context) error {
		// The body only runs once the lock is held, so counting here keeps
		// the metric tied to acquisition rather than the body's outcome.
		s.metrics.LockAcquisitions.WithLabelValues(scope).Inc()
		return fn(ctx)
	})
	if errors.Is(err, lock.ErrTimeout) {
		s.metrics.LockTimeouts.WithLabelValues(scope).Inc()
		return lockTimeout("LOCK_TIMEOUT", fmt.Sprintf("could not acquire %s lock within %s", scope, wait))
	}
	return err
}

// StartReview opens a review for a post. The deadline is a fixed policy
// window from the start instant.
func (s *Service) StartReview(ctx context.Context, postID string, startedBy *string) (store.Review, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Review{}, notFound("POST_NOT_FOUND", "post does not exist")
	}
	if err != nil {
		return store.Review{}, fmt.Errorf("load post: %w", err)
	}
	if post.Status == store.PostStatusDeleted {
		return store.Review{}, notFound("POST_NOT_FOUND", "post has been deleted")
	}

	active, err := s.store.GetActiveReviewByPost(ctx, postID)
	if err != nil {
		return store.Review{}, err
	}
	if active != nil {
		return store.Review{}, conflict("REVIEW_ALREADY_OPEN", "an open review already exists for this post")
	}

	now := s.clock.Now()
	review := store.Review{
		ID:        util.NewID("review"),
		PostID:    postID,
		Status:    store.ReviewStatusInReview,
		StartedBy: startedBy,
		StartedAt: now,
		Deadline:  now.Add(s.reviewWindow),
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		// The partial unique index on open reviews backs up the pre-check
		// when two starts race past it.
		if store.IsUniqueViolation(err) {
			return store.Review{}, conflict("REVIEW_ALREADY_OPEN", "an open review already exists for this post")
		}
		return store.Review{}, err
	}

	s.metrics.ReviewsStarted.Inc()
	return review, nil
}

// CompleteReview closes a review under its per-review lock: it selects the
// winning revision (or cancels when none were submitted), applies the
// winner to the post, and appends an immutable history record. Re-invoking
// on a terminal review is a safe no-op, so a deadline sweep and a manual
// close may race freely.
func (s *Service) CompleteReview(ctx context.Context, reviewID string) error {
	return s.withLock(ctx, "review", "review:"+reviewID, reviewLockWait, reviewLockLease, func(ctx context.Context) error {
		review, err := s.store.GetReview(ctx, reviewID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("REVIEW_NOT_FOUND", "review does not exist")
		}
		if err != nil {
			return fmt.Errorf("load review: %w", err)
		}
		if review.Status != store.ReviewStatusInReview {
			return nil
		}

		revisions, err := s.store.ListRevisionsByReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if len(revisions) == 0 {
			if err := s.store.UpdateReviewStatus(ctx, reviewID, store.ReviewStatusCancelled, nil); err != nil {
				return err
			}
			s.metrics.ReviewsCancelled.Inc()
			return nil
		}

		winner := pickWinner(revisions)
		if err := s.store.UpdateReviewStatus(ctx, reviewID, store.ReviewStatusCompleted, &winner.ID); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.store.UpdatePostContent(ctx, review.PostID, winner.Title, winner.Body, store.PostStatusReviewed, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Error().
					Str("review_id", reviewID).
					Str("post_id", review.PostID).
					Msg("post vanished during review completion")
				return notFound("POST_NOT_FOUND", "post referenced by review no longer exists")
			}
			return err
		}

		if err := s.store.InsertReviewHistory(ctx, store.ReviewHistoryEntry{
			PostID:     review.PostID,
			ReviewID:   review.ID,
			RevisionID: winner.ID,
			Title:      winner.Title,
			Body:       winner.Body,
			AuthorID:   winner.AuthorID,
			RecordedAt: now,
		}); err != nil {
			return err
		}

		s.metrics.ReviewsCompleted.Inc()
		return nil
	})
}

// pickWinner orders candidates by vote count descending, then earliest
// submission, then revision id ascending. The tertiary key keeps the
// ordering total when the clock resolution collapses submission times.
func pickWinner(revisions []store.Revision) store.Revision {
	sorted := make([]store.Revision, len(revisions))
	copy(sorted, revisions)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// SubmitRevision records a candidate revision against an open review. The
// status check and the insert share the per-review lock with CompleteReview,
// so a revision can never land in a review that closes concurrently.
func (s *Service) SubmitRevision(ctx context.Context, reviewID, title, body string, authorID *string) (store.Revision, error) {
	var revision store.Revision
	err := s.withLock(ctx, "review", "review:"+reviewID, reviewLockWait, reviewLockLease, func(ctx context.Context) error {
		review, err := s.store.GetReview(ctx, reviewID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("REVIEW_NOT_FOUND", "review does not exist")
		}
		if err != nil {
			return fmt.Errorf("load review: %w", err)
		}
		if review.Status != store.ReviewStatusInReview {
			return conflict("REVIEW_NOT_OPEN", "review no longer accepts revisions")
		}

		revision = store.Revision{
			ID:          util.NewID("rvsn"),
			ReviewID:    reviewID,
			Title:       title,
			Body:        body,
			AuthorID:    authorID,
			VoteCount:   0,
			SubmittedAt: s.clock.Now(),
		}
		return s.store.InsertRevision(ctx, revision)
	})
	if err != nil {
		return store.Revision{}, err
	}

	s.metrics.RevisionsSubmitted.Inc()
	return revision, nil
}

func (s *Service) GetRevisions(ctx context.Context, reviewID string) ([]store.Revision, error) {
	return s.store.ListRevisionsByReview(ctx, reviewID)
}

func (s *Service) GetRevision(ctx context.Context, revisionID string) (store.Revision, error) {
	revision, err := s.store.GetRevision(ctx, revisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Revision{}, notFound("REVISION_NOT_FOUND", "revision does not exist")
	}
	if err != nil {
		return store.Revision{}, fmt.Errorf("load revision: %w", err)
	}
	return revision, nil
}

// Vote records one voter's endorsement of a revision. Anonymous callers are
// a silent no-op: unauthenticated readers never see an error surface. The
// existence check and the tally increment are linearized by the
// per-(revision, voter) lock.
func (s *Service) Vote(ctx context.Context, revisionID string, voterID *string) error {
	if voterID == nil || strings.TrimSpace(*voterID) == "" {
		return nil
	}
	voter := strings.TrimSpace(*voterID)

	return s.withLock(ctx, "vote", "vote:"+revisionID+":"+voter, voteLockWait, voteLockLease, func(ctx context.Context) error {
		exists, err := s.store.VoteExists(ctx, revisionID, voter)
		if err != nil {
			return err
		}
		if exists {
			s.metrics.VotesRejected.Inc()
			return conflict("ALREADY_VOTED", "voter has already voted on this revision")
		}

		if _, err := s.store.GetRevision(ctx, revisionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("REVISION_NOT_FOUND", "revision does not exist")
			}
			return fmt.Errorf("load revision: %w", err)
		}

		vote := store.Vote{
			ID:         util.NewID("vote"),
			RevisionID: revisionID,
			VoterID:    voter,
			VotedAt:    s.clock.Now(),
		}
		if err := s.store.InsertVote(ctx, vote); err != nil {
			if store.IsUniqueViolation(err) {
				s.metrics.VotesRejected.Inc()
				return conflict("ALREADY_VOTED", "voter has already voted on this revision")
			}
			return err
		}
		if err := s.store.IncrementRevisionVoteCount(ctx, revisionID); err != nil {
			return err
		}

		s.metrics.VotesAccepted.Inc()
		return nil
	})
}

// CompleteDueReviews closes reviews whose deadline has passed. Lock
// timeouts mean another closer is already working the review; everything
// else is logged and skipped so one bad review cannot stall the sweep.
func (s *Service) CompleteDueReviews(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListDueReviews(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due reviews: %w", err)
	}

	completed := 0
	for _, review := range due {
		if err := s.CompleteReview(ctx, review.ID); err != nil {
			if KindOf(err) == KindLockTimeout {
				continue
			}
			s.logger.Error().
				Err(err).
				Str("review_id", review.ID).
				Msg("deadline completion failed")
			continue
		}
		completed++
	}
	return completed, nil
}

// ListHistory returns the append-only completion record for a post, newest
// first.
func (s *Service) ListHistory(ctx context.Context, postID string) ([]store.ReviewHistoryEntry, error) {
	return s.store.ListReviewHistory(ctx, postID)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation. The unique indexes are the fallback exclusion mechanism for
// callers that bypass the lock keyspace.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	var item Post
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, status, created_at, updated_at
		FROM posts
		WHERE id=$1
	`, postID).Scan(&item.ID, &item.Title, &item.Body, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Post{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdatePostContent(ctx context.Context, postID, title, body, status string, updatedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title=$2, body=$3, status=$4, updated_at=$5
		WHERE id=$1
	`, postID, title, body, status, updatedAt)
	if err != nil {
		return fmt.Errorf("update post content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post content: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertReview(ctx context.Context, item Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, post_id, status, started_by, started_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.PostID, item.Status, item.StartedBy, item.StartedAt, item.Deadline)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var item Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, status, started_by, winning_revision_id, started_at, deadline
		FROM reviews
		WHERE id=$1
	`, reviewID).Scan(&item.ID, &item.PostID, &item.Status, &item.StartedBy, &item.WinningRevisionID, &item.StartedAt, &item.Deadline)
	if err != nil {
		return Review{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetActiveReviewByPost(ctx context.Context, postID string) (*Review, error) {
	var item Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, status, started_by, winning_revision_id, started_at, deadline
		FROM reviews
		WHERE post_id=$1 AND status=$2
	`, postID, ReviewStatusInReview).Scan(&item.ID, &item.PostID, &item.Status, &item.StartedBy, &item.WinningRevisionID, &item.StartedAt, &item.Deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active review: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) UpdateReviewStatus(ctx context.Context, reviewID, status string, winningRevisionID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reviews
		SET status=$2, winning_revision_id=$3
		WHERE id=$1
	`, reviewID, status, winningRevisionID)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDueReviews(ctx context.Context, now time.Time, limit int) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, status, started_by, winning_revision_id, started_at, deadline
		FROM reviews
		WHERE status=$1 AND deadline <= $2
		ORDER BY deadline ASC
		LIMIT $3
	`, ReviewStatusInReview, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.PostID, &item.Status, &item.StartedBy, &item.WinningRevisionID, &item.StartedAt, &item.Deadline); err != nil {
			return nil, fmt.Errorf("scan due review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due reviews: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertRevision(ctx context.Context, item Revision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (id, review_id, title, body, author_id, vote_count, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ReviewID, item.Title, item.Body, item.AuthorID, item.VoteCount, item.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, revisionID string) (Revision, error) {
	var item Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT id, review_id, title, body, author_id, vote_count, submitted_at
		FROM revisions
		WHERE id=$1
	`, revisionID).Scan(&item.ID, &item.ReviewID, &item.Title, &item.Body, &item.AuthorID, &item.VoteCount, &item.SubmittedAt)
	if err != nil {
		return Revision{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListRevisionsByReview(ctx context.Context, reviewID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, title, body, author_id, vote_count, submitted_at
		FROM revisions
		WHERE review_id=$1
		ORDER BY submitted_at ASC
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]Revision, 0)
	for rows.Next() {
		var item Revision
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.Title, &item.Body, &item.AuthorID, &item.VoteCount, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IncrementRevisionVoteCount(ctx context.Context, revisionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE revisions SET vote_count = vote_count + 1 WHERE id=$1
	`, revisionID)
	if err != nil {
		return fmt.Errorf("increment vote count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment vote count: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) VoteExists(ctx context.Context, revisionID, voterID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM votes WHERE revision_id=$1 AND voter_id=$2)
	`, revisionID, voterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check vote exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertVote(ctx context.Context, item Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (id, revision_id, voter_id, voted_at)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.RevisionID, item.VoterID, item.VotedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, post_count, created_at, updated_at
		FROM tags
		WHERE name=$1
	`, name).Scan(&item.ID, &item.Name, &item.PostCount, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tag: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListTagsByNames(ctx context.Context, names []string) ([]Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}

	query := fmt.Sprintf(`
		SELECT id, name, post_count, created_at, updated_at
		FROM tags
		WHERE name IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags by names: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0, len(names))
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.PostCount, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTag(ctx context.Context, item Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, post_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.PostCount, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// IncrementTagPostCounts bumps each tag's usage counter with a single
// store-level update per tag; no application-side read-modify-write.
func (s *PostgresStore) IncrementTagPostCounts(ctx context.Context, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE tags SET post_count = post_count + 1, updated_at = NOW() WHERE id=$1
		`, tagID); err != nil {
			return fmt.Errorf("increment post count for %s: %w", tagID, err)
		}
	}
	return nil
}

// DecrementTagPostCounts lowers each tag's usage counter, floored at zero.
// The floor lives in the UPDATE itself so concurrent decrements can never
// drive the counter negative.
func (s *PostgresStore) DecrementTagPostCounts(ctx context.Context, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE tags SET post_count = GREATEST(post_count - 1, 0), updated_at = NOW() WHERE id=$1
		`, tagID); err != nil {
			return fmt.Errorf("decrement post count for %s: %w", tagID, err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertReviewHistory(ctx context.Context, item ReviewHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_history (post_id, review_id, revision_id, title, body, author_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.PostID, item.ReviewID, item.RevisionID, item.Title, item.Body, item.AuthorID, item.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert review history: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewHistory(ctx context.Context, postID string) ([]ReviewHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, review_id, revision_id, title, body, author_id, recorded_at
		FROM review_history
		WHERE post_id=$1
		ORDER BY recorded_at DESC, id DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list review history: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewHistoryEntry, 0)
	for rows.Next() {
		var item ReviewHistoryEntry
		if err := rows.Scan(&item.ID, &item.PostID, &item.ReviewID, &item.RevisionID, &item.Title, &item.Body, &item.AuthorID, &item.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}
	return items, nil
}

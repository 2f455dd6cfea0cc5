package store

import "time"

const (
	PostStatusDraft    = "DRAFT"
	PostStatusInReview = "IN_REVIEW"
	PostStatusReviewed = "REVIEWED"
	PostStatusDeleted  = "DELETED"
)

const (
	ReviewStatusInReview  = "IN_REVIEW"
	ReviewStatusCompleted = "COMPLETED"
	ReviewStatusCancelled = "CANCELLED"
)

type Post struct {
	ID        string
	Title     string
	Body      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Review struct {
	ID                string
	PostID            string
	Status            string
	StartedBy         *string
	WinningRevisionID *string
	StartedAt         time.Time
	Deadline          time.Time
}

// Revision is immutable after insertion except for its vote count, which is
// only ever incremented by the vote ledger.
type Revision struct {
	ID          string
	ReviewID    string
	Title       string
	Body        string
	AuthorID    *string
	VoteCount   int
	SubmittedAt time.Time
}

type Vote struct {
	ID         string
	RevisionID string
	VoterID    string
	VotedAt    time.Time
}

// Tag names are stored case-normalized; uniqueness is enforced by the
// database index underneath the per-name lock discipline.
type Tag struct {
	ID        string
	Name      string
	PostCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewHistoryEntry is an append-only record of a completed review.
type ReviewHistoryEntry struct {
	ID         int64
	PostID     string
	ReviewID   string
	RevisionID string
	Title      string
	Body       string
	AuthorID   *string
	RecordedAt time.Time
}

package app

import (
	"context"
	"strings"

	"redline/internal/store"
	"redline/internal/util"
)

func normalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// dedupeTagNames normalizes the input and drops duplicates while keeping
// first-occurrence order. Empty names are discarded.
func dedupeTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		normalized := normalizeTagName(name)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		ordered = append(ordered, normalized)
	}
	return ordered
}

// FindOrCreateTags resolves a list of free-text names to tags, creating
// missing ones. Existing tags are fetched in one batch read so no lock is
// taken for names that already resolve; the remainder are created one at a
// time in input order — never holding more than one tag lock at once, which
// rules out lock-ordering deadlocks between callers resolving overlapping
// sets.
func (s *Service) FindOrCreateTags(ctx context.Context, names []string) ([]store.Tag, error) {
	ordered := dedupeTagNames(names)
	if len(ordered) == 0 {
		return nil, nil
	}

	existing, err := s.store.ListTagsByNames(ctx, ordered)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.Tag, len(existing))
	for _, tag := range existing {
		byName[tag.Name] = tag
	}

	result := make([]store.Tag, 0, len(ordered))
	for _, name := range ordered {
		if tag, ok := byName[name]; ok {
			result = append(result, tag)
			continue
		}
		tag, err := s.FindOrCreateTag(ctx, name)
		if err != nil {
			return nil, err
		}
		result = append(result, tag)
	}
	return result, nil
}

// FindOrCreateTag resolves a single name under its per-name lock. The
// existence check is repeated under the lock because the pre-lock read may
// be stale. If creation still collides on the unique index — a writer
// outside this lock keyspace won the race — the resolver adopts the
// winner's row via re-read; a re-read that finds nothing means the locking
// discipline itself is broken and is surfaced loudly.
func (s *Service) FindOrCreateTag(ctx context.Context, name string) (store.Tag, error) {
	normalized := normalizeTagName(name)
	if normalized == "" {
		return store.Tag{}, conflict("TAG_NAME_EMPTY", "tag name must not be empty")
	}

	var resolved store.Tag
	err := s.withLock(ctx, "tag", "tag:"+normalized, tagLockWait, tagLockLease, func(ctx context.Context) error {
		existing, err := s.store.GetTagByName(ctx, normalized)
		if err != nil {
			return err
		}
		if existing != nil {
			resolved = *existing
			return nil
		}

		now := s.clock.Now()
		created := store.Tag{
			ID:        util.NewID("tag"),
			Name:      normalized,
			PostCount: 0,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.InsertTag(ctx, created); err != nil {
			if store.IsUniqueViolation(err) {
				winner, rereadErr := s.store.GetTagByName(ctx, normalized)
				if rereadErr != nil {
					return rereadErr
				}
				if winner == nil {
					s.logger.Error().
						Str("tag", normalized).
						Str("operation", "find_or_create_tag").
						Msg("tag creation collided but re-read found nothing")
					return internalErr("TAG_RESOLUTION_BROKEN", "tag creation collided and the colliding row is gone")
				}
				resolved = *winner
				return nil
			}
			return err
		}

		s.metrics.TagsCreated.Inc()
		resolved = created
		return nil
	})
	if err != nil {
		return store.Tag{}, err
	}
	return resolved, nil
}

// FindTagsByNames is a pure read; names that do not resolve are simply
// absent from the result.
func (s *Service) FindTagsByNames(ctx context.Context, names []string) ([]store.Tag, error) {
	ordered := dedupeTagNames(names)
	if len(ordered) == 0 {
		return nil, nil
	}
	return s.store.ListTagsByNames(ctx, ordered)
}

// FindTagByName is a pure read returning nil when the name does not resolve.
func (s *Service) FindTagByName(ctx context.Context, name string) (*store.Tag, error) {
	normalized := normalizeTagName(name)
	if normalized == "" {
		return nil, nil
	}
	return s.store.GetTagByName(ctx, normalized)
}

// IncrementPostCount bumps each tag's usage counter. The update is atomic
// at the store level, so no lock is needed here.
func (s *Service) IncrementPostCount(ctx context.Context, tags []store.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return s.store.IncrementTagPostCounts(ctx, tagIDs(tags))
}

// DecrementPostCount lowers each tag's usage counter, floored at zero by
// the store-level update.
func (s *Service) DecrementPostCount(ctx context.Context, tags []store.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return s.store.DecrementTagPostCounts(ctx, tagIDs(tags))
}

func tagIDs(tags []store.Tag) []string {
	ids := make([]string, 0, len(tags))
	for _, tag := range tags {
		ids = append(ids, tag.ID)
	}
	return ids
}

package session

import (
	"context"
	"fmt"

	"github.com/tangramfs/tangramfs/pkg/wire"
)

// Post sends a single-interval POST_REQ for [offset, offset+count).
func (s *Session) Post(ctx context.Context, offset, count uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.meta.Post(ctx, s.file, offset, count); err != nil {
		return fmt.Errorf("session: post [%d,+%d]: %w", offset, count, err)
	}
	end := offset + count - 1
	if end > s.postedThrough || !s.postedAny {
		s.postedThrough = end
		s.postedAny = true
	}
	return nil
}

// Commit runs post_all: every extent not yet posted since the last
// PostAll/Commit call is sent in a single POST_REQ. Matches COMMIT
// semantics' commit() and RELAXED/COMMIT's close()-time catch-up post.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.postAllLocked(ctx)
}

// postAllLocked implements post_all under the session's own lock:
// enumerate the extent index under its read lock, keep only the
// extents this session hasn't already posted (tracked via the
// postedThrough high-water mark, §9's resolution of the post_all dedup
// Open Question), and send them as one POST_REQ.
func (s *Session) postAllLocked(ctx context.Context) error {
	snap := s.idx.Snapshot()

	var pending []wire.Interval
	newHigh := s.postedThrough
	for _, e := range snap {
		if s.postedAny && e.LogicalEnd <= s.postedThrough {
			continue
		}
		pending = append(pending, wire.Interval{Offset: e.LogicalStart, Count: e.Len()})
		if e.LogicalEnd > newHigh {
			newHigh = e.LogicalEnd
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.meta.PostAll(ctx, s.file, pending); err != nil {
		return fmt.Errorf("session: post_all: %w", err)
	}
	s.postedThrough = newHigh
	s.postedAny = true
	return nil
}

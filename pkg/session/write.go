package session

import (
	"context"
	"fmt"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/lock"
)

// Write appends buf to the scratch file, records the resulting extent
// and advances the cursor (§4.5 Write path). Under STRONG semantics it
// acquires a WR token over the written range first and posts the
// extent immediately, since STRONG relies on the lock to serialize
// visibility rather than on a later commit/close.
func (s *Session) Write(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := uint64(len(buf))
	start := s.cursor
	end := start + count - 1

	if s.semantics == config.SemanticsStrong {
		if _, err := s.locks.AcquireLock(ctx, s.self, s.file, start, count, lock.WR); err != nil {
			return 0, fmt.Errorf("session: acquire write lock [%d,%d]: %w", start, end, err)
		}
		defer func() {
			if err := s.locks.ReleaseLock(ctx, s.self, s.file, start, count); err != nil {
				logger.WarnCtx(ctx, "session: release write lock", logger.File(s.file), logger.Err(err))
			}
		}()
	}

	localOffset, err := s.store.Append(buf)
	if err != nil {
		return 0, fmt.Errorf("session: append to scratch: %w", err)
	}
	s.idx.Add(start, end, uint64(localOffset), s.self)
	s.cursor = end + 1

	if s.semantics == config.SemanticsStrong {
		if err := s.meta.Post(ctx, s.file, start, count); err != nil {
			return int(count), fmt.Errorf("session: post write [%d,%d]: %w", start, end, err)
		}
		if end > s.postedThrough || !s.postedAny {
			s.postedThrough = end
			s.postedAny = true
		}
	}

	return int(count), nil
}

package session

import (
	"context"
	"fmt"
	"io"

	"github.com/tangramfs/tangramfs/pkg/extent"
)

// Flush iterates the extent index under a read lock and pwrites each
// extent from the scratch file to the PFS in flushChunkSize chunks
// (§4.5 Flush). Writes are positional, so Flush is idempotent and safe
// to call on a read-miss fallback or explicitly.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked is Flush's body, split out so readSegment (which already
// holds s.mu) can trigger a flush without deadlocking.
func (s *Session) flushLocked(ctx context.Context) error {
	for _, e := range s.idx.Snapshot() {
		if err := s.flushExtent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) flushExtent(ctx context.Context, e extent.Extent) error {
	length := e.Len()
	buf := make([]byte, s.flushChunkSize)

	var written uint64
	for written < length {
		chunkLen := minU64(s.flushChunkSize, length-written)
		n, err := s.store.ReadAt(buf[:chunkLen], int64(e.LocalOffset+written))
		if err != nil && err != io.EOF {
			return fmt.Errorf("session: flush read scratch at %d: %w", e.LocalOffset+written, err)
		}
		if n == 0 {
			break
		}
		if _, err := s.pfs.PWrite(ctx, s.file, int64(e.LogicalStart+written), buf[:n]); err != nil {
			return fmt.Errorf("session: flush pwrite at %d: %w", e.LogicalStart+written, err)
		}
		written += uint64(n)
	}
	return nil
}

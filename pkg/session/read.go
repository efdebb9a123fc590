package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/extent"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/location"
)

// segment is one contiguous piece of a read request, resolved to
// either a specific owner or "no owner on record" (nil).
type segment struct {
	start, end uint64 // inclusive, in file-absolute coordinates
	owner      *addr.Address
}

// buildSegments walks owners (sorted by Offset, disjoint — the shape
// location.Query returns) and fills the gaps between them with
// ownerless segments, producing full coverage of [start, start+count).
//
// A single read can span both posted and unposted byte ranges because
// location.Query only reports coverage some client has actually
// posted; this is a direct consequence of reusing the Extent Index
// itself as the location service's storage (§4.5 grounding) rather
// than each read resolving to exactly one owner as the single-interval
// original assumes.
func buildSegments(start, count uint64, owners []location.Owner) []segment {
	end := start + count - 1
	var segs []segment
	cursor := start

	for _, o := range owners {
		oStart, oEnd := o.Offset, o.Offset+o.Count-1
		if oEnd < cursor {
			continue
		}
		if oStart > end {
			break
		}
		if oStart > cursor {
			segs = append(segs, segment{cursor, oStart - 1, nil})
		}
		segStart, segEnd := maxU64(cursor, oStart), minU64(end, oEnd)
		a := o.Addr
		segs = append(segs, segment{segStart, segEnd, &a})
		cursor = segEnd + 1
		if cursor > end {
			break
		}
	}
	if cursor <= end {
		segs = append(segs, segment{cursor, end, nil})
	}
	return segs
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Read satisfies count bytes starting at the cursor into dst (§4.5
// Read path): query the metadata service, then for every resolved
// segment prefer a local read (tie-break-to-self) over an RMA fetch,
// falling back to flush-then-PFS-read on a local coverage gap or a
// failed fetch. The cursor advances by however many bytes were
// actually delivered, which may be less than len(dst) on a short PFS
// read.
func (s *Session) Read(ctx context.Context, dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := uint64(len(dst))
	start := s.cursor

	if s.semantics == config.SemanticsStrong {
		if _, err := s.locks.AcquireLock(ctx, s.self, s.file, start, count, lock.RD); err != nil {
			return 0, fmt.Errorf("session: acquire read lock [%d,+%d]: %w", start, count, err)
		}
		defer func() {
			if err := s.locks.ReleaseLock(ctx, s.self, s.file, start, count); err != nil {
				logger.WarnCtx(ctx, "session: release read lock", logger.File(s.file), logger.Err(err))
			}
		}()
	}

	owners, err := s.meta.Query(ctx, s.file, start, count)
	if err != nil {
		logger.DebugCtx(ctx, "session: metadata query failed, falling back to local/pfs", logger.File(s.file), logger.Err(err))
		owners = nil
	}

	var total uint64
	for _, seg := range buildSegments(start, count, owners) {
		segLen := seg.end - seg.start + 1
		segDst := dst[seg.start-start : seg.start-start+segLen]

		n, err := s.readSegment(ctx, seg, segDst)
		total += uint64(n)
		if err != nil {
			s.cursor = start + total
			return int(total), fmt.Errorf("session: read [%d,%d]: %w", seg.start, seg.end, err)
		}
		if uint64(n) < segLen {
			break
		}
	}

	s.cursor = start + total
	return int(total), nil
}

// readSegment resolves one segment: a peer fetch when owned by someone
// else, otherwise (or on fetch failure) the local-read-or-PFS-fallback
// path.
func (s *Session) readSegment(ctx context.Context, seg segment, dst []byte) (int, error) {
	if seg.owner != nil && !seg.owner.Equal(s.self) {
		n, err := s.rma.Fetch(ctx, *seg.owner, s.file, seg.start, uint64(len(dst)), dst)
		if err == nil {
			return n, nil
		}
		logger.DebugCtx(ctx, "session: rma fetch failed, falling back to pfs",
			logger.File(s.file), logger.Owner(seg.owner.String()), logger.Err(err))
	}

	n, err := s.idx.ReadLocal(seg.start, seg.end, s.store, dst)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, extent.ErrGap) {
		return n, fmt.Errorf("local read: %w", err)
	}

	if err := s.flushLocked(ctx); err != nil {
		return 0, fmt.Errorf("flush before pfs fallback: %w", err)
	}
	pn, perr := s.pfs.PRead(ctx, s.file, int64(seg.start), dst)
	if perr != nil && !errors.Is(perr, io.EOF) {
		return pn, fmt.Errorf("pfs read: %w", perr)
	}
	return pn, nil
}

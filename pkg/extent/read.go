package extent

import "fmt"

// ScratchReader is the read side of a node-local scratch file: a
// positional reader over previously-appended bytes. pkg/scratch's
// store satisfies this directly (as does *os.File).
type ScratchReader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// ReadLocal implements the local-read coverage check: it determines
// whether the index's extents fully cover [reqStart, reqEnd] and, if
// so, copies the covered bytes from the scratch file into dst (which
// must be exactly reqEnd-reqStart+1 bytes long).
//
// Both the gap-detection walk and the copy walk run over the same
// point-in-time snapshot of the index so a concurrent Add cannot
// produce an inconsistent read.
//
// Returns ErrGap if coverage is incomplete; the caller's recovery is
// to flush and fall back to a PFS read.
func (idx *Index) ReadLocal(reqStart, reqEnd uint64, scratch ScratchReader, dst []byte) (int, error) {
	if reqEnd < reqStart {
		return 0, fmt.Errorf("extent: invalid range [%d,%d]", reqStart, reqEnd)
	}
	wantLen := reqEnd - reqStart + 1
	if uint64(len(dst)) != wantLen {
		return 0, fmt.Errorf("extent: dst length %d does not match range length %d", len(dst), wantLen)
	}

	snap := idx.Snapshot()

	if !coversRange(snap, reqStart, reqEnd) {
		return 0, ErrGap
	}

	var n int
	for _, e := range snap {
		if !e.overlaps(reqStart, reqEnd) {
			continue
		}
		chunkStart := max64(e.LogicalStart, reqStart)
		chunkEnd := min64(e.LogicalEnd, reqEnd)
		length := chunkEnd - chunkStart + 1
		srcOffset := e.LocalOffset + (chunkStart - e.LogicalStart)
		destOffset := chunkStart - reqStart

		read, err := scratch.ReadAt(dst[destOffset:destOffset+length], int64(srcOffset))
		if err != nil {
			return n, fmt.Errorf("extent: read scratch at %d: %w", srcOffset, err)
		}
		n += read
	}
	return n, nil
}

// coversRange walks a start-ordered, disjoint snapshot and reports
// whether it contiguously covers [reqStart, reqEnd] with no gaps.
func coversRange(snap []Extent, reqStart, reqEnd uint64) bool {
	expected := reqStart
	for _, e := range snap {
		if e.LogicalStart > reqEnd {
			break
		}
		if e.LogicalEnd < expected {
			continue
		}
		if e.LogicalStart > expected {
			return false
		}
		expected = e.LogicalEnd + 1
		if expected > reqEnd {
			return true
		}
	}
	return expected > reqEnd
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

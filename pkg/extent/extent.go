// Package extent implements the per-client, per-open-file index of
// logical byte ranges to their backing location in the client's local
// scratch file.
package extent

import (
	"errors"
	"sort"
	"sync"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

// ErrGap is returned by ReadLocal when the index does not fully cover
// the requested range. It is an expected condition, not an invariant
// violation: callers fall back to a peer RMA fetch or a PFS read.
var ErrGap = errors.New("extent: local index has a coverage gap")

// Extent is a contiguous logical byte range backed by a contiguous
// region of a client's scratch file. Bounds are inclusive.
type Extent struct {
	LogicalStart uint64
	LogicalEnd   uint64
	LocalOffset  uint64
	Owner        addr.Address
}

// Len returns the byte length the extent covers.
func (e Extent) Len() uint64 {
	return e.LogicalEnd - e.LogicalStart + 1
}

// overlaps reports whether e intersects [start, end].
func (e Extent) overlaps(start, end uint64) bool {
	return e.LogicalStart <= end && start <= e.LogicalEnd
}

// Index is the ordered, disjoint collection of extents for one open
// file at one client. Readers may iterate concurrently; Add takes the
// index's exclusive lock for the duration of the mutation.
type Index struct {
	mu      sync.RWMutex
	extents []Extent // ordered by LogicalStart, pairwise disjoint
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// RLock, RUnlock, Lock and Unlock expose the index's reader/writer
// lock directly so a caller can hold it across a multi-step locked
// iteration (the coverage-check walk in ReadLocal, or a caller's own
// traversal via Iter).
func (idx *Index) RLock()   { idx.mu.RLock() }
func (idx *Index) RUnlock() { idx.mu.RUnlock() }
func (idx *Index) Lock()    { idx.mu.Lock() }
func (idx *Index) Unlock()  { idx.mu.Unlock() }

// Add inserts an extent, deleting any existing coverage over the
// overlap first so that a newer write always wins (§3: "a newer write
// to an overlapping range replaces coverage"). Partial overlaps are
// resolved by trimming the existing extent down to its non-overlapping
// remainder rather than dropping it outright; this is the
// delete-then-insert behaviour chosen uniformly per the open question
// on partial-overlap handling.
func (idx *Index) Add(start, end, localOffset uint64, owner addr.Address) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := make([]Extent, 0, len(idx.extents)+1)
	inserted := false

	for _, e := range idx.extents {
		if !e.overlaps(start, end) {
			if !inserted && e.LogicalStart > start {
				next = append(next, Extent{start, end, localOffset, owner})
				inserted = true
			}
			next = append(next, e)
			continue
		}

		// e overlaps [start,end]: keep only the parts of e outside it.
		if e.LogicalStart < start {
			left := e
			left.LogicalEnd = start - 1
			next = append(next, left)
		}
		if e.LogicalEnd > end {
			right := e
			right.LogicalStart = end + 1
			right.LocalOffset = e.LocalOffset + (end + 1 - e.LogicalStart)
			// right will be re-ordered into place below since it may now
			// sort after the new extent; append to a side list instead.
			next = appendSorted(next, right)
		}
	}

	if !inserted {
		next = appendSorted(next, Extent{start, end, localOffset, owner})
	}

	idx.extents = next
}

// appendSorted inserts e into s, which must already be sorted by
// LogicalStart, preserving order.
func appendSorted(s []Extent, e Extent) []Extent {
	i := sort.Search(len(s), func(i int) bool { return s[i].LogicalStart > e.LogicalStart })
	s = append(s, Extent{})
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}

// Find returns any extent whose range intersects [a,b], and whether
// one was found.
func (idx *Index) Find(a, b uint64) (Extent, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.findLocked(a, b)
}

func (idx *Index) findLocked(a, b uint64) (Extent, bool) {
	// First extent whose LogicalStart could still intersect [a,b]:
	// binary search for the first with LogicalEnd >= a is awkward on a
	// start-sorted slice, so scan from the first candidate start <= b.
	i := sort.Search(len(idx.extents), func(i int) bool { return idx.extents[i].LogicalStart > b })
	for j := i - 1; j >= 0; j-- {
		if idx.extents[j].LogicalEnd >= a {
			return idx.extents[j], true
		}
		// Extents are disjoint and ordered; once LogicalEnd < a for a
		// lower-start extent it can't improve by going further left
		// unless a later one covers a. Scan is bounded by n in the worst
		// case but typically short since ranges don't overlap.
	}
	for j := i; j < len(idx.extents); j++ {
		if idx.extents[j].overlaps(a, b) {
			return idx.extents[j], true
		}
		if idx.extents[j].LogicalStart > b {
			break
		}
	}
	return Extent{}, false
}

// Iter performs in-order traversal. prev == nil yields the first
// extent; otherwise it yields the extent immediately after prev by
// LogicalStart. The caller should hold RLock across a traversal that
// must observe a consistent snapshot.
func (idx *Index) Iter(prev *Extent) (Extent, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.extents) == 0 {
		return Extent{}, false
	}
	if prev == nil {
		return idx.extents[0], true
	}
	i := sort.Search(len(idx.extents), func(i int) bool { return idx.extents[i].LogicalStart > prev.LogicalStart })
	if i >= len(idx.extents) {
		return Extent{}, false
	}
	return idx.extents[i], true
}

// Count returns the number of extents currently stored.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.extents)
}

// Max returns the largest LogicalEnd among all extents, and false if
// the index is empty.
func (idx *Index) Max() (uint64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.extents) == 0 {
		return 0, false
	}
	var max uint64
	for _, e := range idx.extents {
		if e.LogicalEnd > max {
			max = e.LogicalEnd
		}
	}
	return max, true
}

// Snapshot returns a copy of every extent currently stored, ordered by
// LogicalStart. Used by post_all to enumerate the full extent set
// under a single read lock.
func (idx *Index) Snapshot() []Extent {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Extent, len(idx.extents))
	copy(out, idx.extents)
	return out
}

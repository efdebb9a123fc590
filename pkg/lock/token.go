// Package lock implements the byte-range lock token table: a server
// tier that is the sole authority over a file's tokens, and a
// per-node delegator tier that caches grants for co-located clients.
package lock

import (
	"time"

	"github.com/google/uuid"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

// Type is a lock token's mode.
type Type int

const (
	// RD is a shared read token: multiple owners may hold overlapping
	// RD tokens simultaneously.
	RD Type = iota
	// WR is an exclusive write token: no other token may overlap it.
	WR
)

func (t Type) String() string {
	switch t {
	case RD:
		return "RD"
	case WR:
		return "WR"
	default:
		return "UNKNOWN"
	}
}

// Token is a granted lock over [Offset, Offset+Count) on File, held by
// Owner. Range end is exclusive, matching the spec's [offset,
// offset+count) form.
type Token struct {
	ID         string
	File       string
	Offset     uint64
	Count      uint64
	Type       Type
	Owner      addr.Address
	AcquiredAt time.Time
}

// newToken stamps a freshly granted token with a unique ID, grounded
// on the teacher's UnifiedLock.ID convention so grants can be
// correlated across logs and metrics.
func newToken(file string, offset, count uint64, typ Type, owner addr.Address) *Token {
	return &Token{
		ID:         uuid.New().String(),
		File:       file,
		Offset:     offset,
		Count:      count,
		Type:       typ,
		Owner:      owner,
		AcquiredAt: time.Now(),
	}
}

// End returns the exclusive end of the token's range.
func (t *Token) End() uint64 {
	return t.Offset + t.Count
}

// Overlaps reports whether t's range intersects [offset, offset+count).
func (t *Token) Overlaps(offset, count uint64) bool {
	return rangesOverlap(t.Offset, t.Count, offset, count)
}

// Covers reports whether t's range fully contains [offset,
// offset+count).
func (t *Token) Covers(offset, count uint64) bool {
	return offset >= t.Offset && offset+count <= t.End()
}

// rangesOverlap reports whether [off1, off1+count1) intersects
// [off2, off2+count2).
func rangesOverlap(off1, count1, off2, count2 uint64) bool {
	end1 := off1 + count1
	end2 := off2 + count2
	return end1 > off2 && end2 > off1
}

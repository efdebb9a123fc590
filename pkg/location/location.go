// Package location implements the metadata/location service: the
// server-side answer to "who last wrote byte b of file F?" Each file
// is tracked with the same disjoint, last-write-wins interval
// structure pkg/extent uses client-side, reused here to record the
// global owner of each logical range instead of a local scratch
// offset.
package location

import (
	"context"
	"fmt"
	"sync"

	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/extent"
)

// Service is the metadata/location service. One Service instance is
// the sole authority for a job; it tracks, per file, which client
// currently owns each logical byte range.
type Service struct {
	mu    sync.RWMutex
	files map[string]*extent.Index
}

// New returns an empty Service.
func New() *Service {
	return &Service{files: make(map[string]*extent.Index)}
}

func (s *Service) indexFor(file string) *extent.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.files[file]
	if !ok {
		idx = extent.New()
		s.files[file] = idx
	}
	return idx
}

// Post records that owner now backs [offset, offset+count) of file.
// A later Post to an overlapping range from any client supersedes this
// one, matching the "last writer wins" resolution required when posts
// arrive out of total order across clients (§4.3: no total order
// across posts from different clients is guaranteed).
func (s *Service) Post(ctx context.Context, owner addr.Address, file string, offset, count uint64) error {
	if count == 0 {
		return fmt.Errorf("location: zero-length post for %s", file)
	}
	idx := s.indexFor(file)
	idx.Add(offset, offset+count-1, 0, owner)
	logger.DebugCtx(ctx, "location: post", logger.File(file), logger.Owner(owner.String()))
	return nil
}

// Owner is one (range, owner) pair returned by Query: the portion of
// the requested range that owner currently backs.
type Owner struct {
	Offset uint64
	Count  uint64
	Addr   addr.Address
}

// Query answers which client(s) own [offset, offset+count) of file,
// as a set of disjoint sub-ranges since the range may be spread across
// multiple writers. Returns an empty slice (not an error) if file has
// never been posted, since that's a gap the caller resolves by falling
// back to the PFS, not a transport failure.
func (s *Service) Query(ctx context.Context, file string, offset, count uint64) ([]Owner, error) {
	if count == 0 {
		return nil, fmt.Errorf("location: zero-length query for %s", file)
	}
	s.mu.RLock()
	idx, ok := s.files[file]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	end := offset + count - 1
	var owners []Owner
	for prev := (*extent.Extent)(nil); ; {
		e, ok := idx.Iter(prev)
		if !ok {
			break
		}
		cur := e
		prev = &cur
		if e.LogicalStart > end {
			break
		}
		if e.LogicalEnd < offset {
			continue
		}
		start := maxU64(e.LogicalStart, offset)
		stop := minU64(e.LogicalEnd, end)
		owners = append(owners, Owner{Offset: start, Count: stop - start + 1, Addr: e.Owner})
	}
	return owners, nil
}

// Stat returns the logical size of file: one past the highest byte
// any client has posted. ok is false if file has never been posted.
func (s *Service) Stat(ctx context.Context, file string) (size uint64, ok bool) {
	s.mu.RLock()
	idx, exists := s.files[file]
	s.mu.RUnlock()
	if !exists {
		return 0, false
	}
	max, has := idx.Max()
	if !has {
		return 0, false
	}
	return max + 1, true
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

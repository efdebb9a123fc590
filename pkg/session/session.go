// Package session implements the File Session Manager (C5): per-open-file
// state tying together the Extent Index (C1), a node-local scratch file,
// the metadata/location service, the lock plane, the RMA data plane and
// the durable PFS backing store, under one of three consistency modes.
package session

import (
	"context"
	"sync"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/extent"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/location"
	"github.com/tangramfs/tangramfs/pkg/pfs"
	"github.com/tangramfs/tangramfs/pkg/scratch"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// DefaultFlushChunkSize is the chunk size Flush uses when copying
// extents from scratch to the PFS, per §4.5.
const DefaultFlushChunkSize = 4096

// MetadataClient is whatever a Session uses to reach the location
// service: pkg/rpc.LocationStub over the wire, or a
// *location.LocalClient on the rank that hosts the location service.
type MetadataClient interface {
	Post(ctx context.Context, file string, offset, count uint64) error
	PostAll(ctx context.Context, file string, extents []wire.Interval) error
	Query(ctx context.Context, file string, offset, count uint64) ([]location.Owner, error)
	Stat(ctx context.Context, file string) (size uint64, posted bool, err error)
}

// RMAClient is whatever a Session uses to fetch bytes a peer owns:
// *rma.Client in production.
type RMAClient interface {
	Fetch(ctx context.Context, owner addr.Address, file string, offset, count uint64, dst []byte) (int, error)
}

// Session is one open file at one client rank.
type Session struct {
	file      string
	self      addr.Address
	semantics config.Semantics

	meta  MetadataClient
	rma   RMAClient
	pfs   pfs.Store
	locks *lock.Delegator // nil under RELAXED/COMMIT if the caller never configured one

	flushChunkSize uint64

	mu            sync.Mutex
	cursor        uint64
	idx           *extent.Index
	store         *scratch.Store
	postedThrough uint64
	postedAny     bool
}

// Config bundles everything a Session needs beyond the file name; the
// zero value of FlushChunkSize selects DefaultFlushChunkSize.
type Config struct {
	Self           addr.Address
	Semantics      config.Semantics
	Meta           MetadataClient
	RMA            RMAClient
	PFS            pfs.Store
	Locks          *lock.Delegator
	FlushChunkSize uint64
}

func newSession(file string, store *scratch.Store, cfg Config) *Session {
	chunk := cfg.FlushChunkSize
	if chunk == 0 {
		chunk = DefaultFlushChunkSize
	}
	return &Session{
		file:           file,
		self:           cfg.Self,
		semantics:      cfg.Semantics,
		meta:           cfg.Meta,
		rma:            cfg.RMA,
		pfs:            cfg.PFS,
		locks:          cfg.Locks,
		flushChunkSize: chunk,
		idx:            extent.New(),
		store:          store,
	}
}

// File returns the logical path this session is open on.
func (s *Session) File() string { return s.file }

// Cursor returns the session's current read/write position.
func (s *Session) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Seek repositions the session's cursor, e.g. so each rank of a
// parallel job can claim its assigned byte range up front instead of
// relying on sequential append order.
func (s *Session) Seek(offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = offset
}

// Reconnect swaps in a new metadata client and resets the posted
// high-water mark, forcing the next PostAll to re-send every extent.
// Use this after the session's metadata connection is re-established
// against a server that may not share the prior one's state (a new
// epoch), which may not hold anything posted before the reconnect.
func (s *Session) Reconnect(meta MetadataClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	s.postedThrough = 0
	s.postedAny = false
}

// Close posts any unposted extents (COMMIT/RELAXED; STRONG has already
// posted per-op), flushes everything buffered to the PFS, and removes
// the scratch file.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.semantics != config.SemanticsStrong {
		if err := s.postAllLocked(ctx); err != nil {
			return err
		}
	}
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	logger.DebugCtx(ctx, "session closed", logger.File(s.file))
	return s.store.Close()
}

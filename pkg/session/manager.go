package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/extent"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/pfs"
	"github.com/tangramfs/tangramfs/pkg/scratch"
)

// sessionShardCount is the number of independent maps a Manager spreads
// its open sessions across. A node running a job with many concurrently
// open files would otherwise funnel every Open/Close/Lookup through one
// mutex; sharding by a hash of the file path keeps that contention
// local to the files that actually collide (§4.1's sharding rationale,
// applied here to the session table since the sharding need is the same
// one level up from the extent index itself).
const sessionShardCount = 16

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Manager owns every Session currently open on one rank and implements
// rma.SessionLookup so the RMA data plane can serve peer fetches
// against whichever of them is live.
type Manager struct {
	bufferDir string
	rank      int
	self      addr.Address
	semantics config.Semantics
	meta      MetadataClient
	rma       RMAClient
	pfs       pfs.Store
	locks     *lock.Delegator

	shards [sessionShardCount]*sessionShard
}

func (m *Manager) shardFor(file string) *sessionShard {
	h := xxhash.Sum64String(file)
	return m.shards[h%sessionShardCount]
}

// ManagerConfig bundles a Manager's shared dependencies; every Session
// it opens is wired from these.
type ManagerConfig struct {
	BufferDir string
	Rank      int
	Self      addr.Address
	Semantics config.Semantics
	Meta      MetadataClient
	RMA       RMAClient
	PFS       pfs.Store
	Locks     *lock.Delegator
}

// NewManager returns an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		bufferDir: cfg.BufferDir,
		rank:      cfg.Rank,
		self:      cfg.Self,
		semantics: cfg.Semantics,
		meta:      cfg.Meta,
		rma:       cfg.RMA,
		pfs:       cfg.PFS,
		locks:     cfg.Locks,
	}
	for i := range m.shards {
		m.shards[i] = &sessionShard{sessions: make(map[string]*Session)}
	}
	return m
}

// Open returns the Session for file, creating one (and its scratch
// file) on first use. Reopening an already-open file returns the
// existing Session.
func (m *Manager) Open(file string) (*Session, error) {
	shard := m.shardFor(file)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if s, ok := shard.sessions[file]; ok {
		return s, nil
	}

	store, err := scratch.Open(m.bufferDir, file, m.rank)
	if err != nil {
		return nil, fmt.Errorf("session: open scratch for %s: %w", file, err)
	}

	s := newSession(file, store, Config{
		Self:      m.self,
		Semantics: m.semantics,
		Meta:      m.meta,
		RMA:       m.rma,
		PFS:       m.pfs,
		Locks:     m.locks,
	})
	shard.sessions[file] = s
	return s, nil
}

// Close closes and forgets the Session for file, if open.
func (m *Manager) Close(ctx context.Context, file string) error {
	shard := m.shardFor(file)

	shard.mu.Lock()
	s, ok := shard.sessions[file]
	if ok {
		delete(shard.sessions, file)
	}
	shard.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Lookup implements rma.SessionLookup: it resolves file to the live
// Session's index and scratch reader so a peer's fetch request can be
// served without routing through the application layer.
func (m *Manager) Lookup(file string) (*extent.Index, extent.ScratchReader, bool) {
	shard := m.shardFor(file)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	s, ok := shard.sessions[file]
	if !ok {
		return nil, nil, false
	}
	return s.idx, s.store, true
}

package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
)

// ServerClient is whatever a Delegator uses to reach the authoritative
// Server: a direct in-process pointer on the rank that hosts it, or an
// RPC stub (pkg/rpc) that marshals the call over the wire on every
// other rank.
type ServerClient interface {
	AcquireLock(ctx context.Context, requester addr.Address, file string, offset, count uint64, typ Type) (*Token, error)
	ReleaseLock(ctx context.Context, requester addr.Address, file string, offset, count uint64) error
	ReleaseLockFile(ctx context.Context, requester addr.Address, file string) error
	ReleaseLockClient(ctx context.Context, requester addr.Address) error
}

// Delegator is the per-node cache of tokens granted to its co-located
// clients. It absorbs repeated requests locally and only talks to the
// server on a miss or an RD→WR upgrade.
type Delegator struct {
	mu     sync.Mutex
	local  map[string][]*Token
	server ServerClient

	// forwardGroup collapses concurrent misses on the same (requester,
	// file, offset, count, type) into a single server round trip, so
	// several local threads racing to acquire the same range don't each
	// send their own ACQUIRE_LOCK_REQ.
	forwardGroup singleflight.Group
}

// NewDelegator returns a Delegator proxying to server.
func NewDelegator(server ServerClient) *Delegator {
	return &Delegator{
		local:  make(map[string][]*Token),
		server: server,
	}
}

// AcquireLock satisfies the request from the local cache when
// possible; otherwise it forwards to the server and caches the grant.
func (d *Delegator) AcquireLock(ctx context.Context, requester addr.Address, file string, offset, count uint64, typ Type) (*Token, error) {
	d.mu.Lock()
	for _, t := range d.local[file] {
		if !t.Owner.Equal(requester) || !t.Covers(offset, count) {
			continue
		}
		if t.Type == typ {
			d.mu.Unlock()
			return t, nil
		}
		if t.Type == RD && typ == WR {
			d.local[file] = removeTokens(d.local[file], []*Token{t})
			d.mu.Unlock()
			return d.forward(ctx, requester, file, offset, count, typ)
		}
	}
	d.mu.Unlock()

	return d.forward(ctx, requester, file, offset, count, typ)
}

func (d *Delegator) forward(ctx context.Context, requester addr.Address, file string, offset, count uint64, typ Type) (*Token, error) {
	key := fmt.Sprintf("%s|%s|%d|%d|%d", requester.String(), file, offset, count, typ)
	v, err, _ := d.forwardGroup.Do(key, func() (any, error) {
		return d.server.AcquireLock(ctx, requester, file, offset, count, typ)
	})
	if err != nil {
		return nil, err
	}
	tok := v.(*Token)

	d.mu.Lock()
	alreadyCached := false
	for _, t := range d.local[file] {
		if t == tok {
			alreadyCached = true
			break
		}
	}
	if !alreadyCached {
		d.local[file] = append(d.local[file], tok)
	}
	d.mu.Unlock()
	return tok, nil
}

// ReleaseLock releases locally and forwards to the server.
func (d *Delegator) ReleaseLock(ctx context.Context, requester addr.Address, file string, offset, count uint64) error {
	d.mu.Lock()
	kept := d.local[file][:0:0]
	for _, t := range d.local[file] {
		if t.Owner.Equal(requester) && t.Covers(offset, count) {
			continue
		}
		kept = append(kept, t)
	}
	d.local[file] = kept
	d.mu.Unlock()

	return d.server.ReleaseLock(ctx, requester, file, offset, count)
}

// ReleaseLockFile releases every local token for requester on file and
// forwards to the server.
func (d *Delegator) ReleaseLockFile(ctx context.Context, requester addr.Address, file string) error {
	d.mu.Lock()
	kept := d.local[file][:0:0]
	for _, t := range d.local[file] {
		if t.Owner.Equal(requester) {
			continue
		}
		kept = append(kept, t)
	}
	d.local[file] = kept
	d.mu.Unlock()

	return d.server.ReleaseLockFile(ctx, requester, file)
}

// ReleaseLockClient releases every local token for requester across
// every file and forwards to the server.
func (d *Delegator) ReleaseLockClient(ctx context.Context, requester addr.Address) error {
	d.mu.Lock()
	for file, toks := range d.local {
		kept := toks[:0:0]
		for _, t := range toks {
			if t.Owner.Equal(requester) {
				continue
			}
			kept = append(kept, t)
		}
		d.local[file] = kept
	}
	d.mu.Unlock()

	return d.server.ReleaseLockClient(ctx, requester)
}

// Revoke implements Notifier: on a server-initiated REVOKE, the
// delegator deletes its matching local token. The client on this node
// no longer holds it and must re-acquire if it wants the range again.
func (d *Delegator) Revoke(ctx context.Context, tok *Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.local[tok.File] = removeTokens(d.local[tok.File], []*Token{tok})
	logger.DebugCtx(ctx, "lock revoked locally", logger.File(tok.File), logger.TokenID(tok.ID))
	return nil
}

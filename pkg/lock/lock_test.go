package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

func p1() addr.Address { return addr.New([]byte("p1"), []byte("p1")) }
func p2() addr.Address { return addr.New([]byte("p2"), []byte("p2")) }

func TestAcquireGrantsWhenNoConflict(t *testing.T) {
	s := NewServer()
	tok, err := s.AcquireLock(context.Background(), p1(), "/pd/f", 0, 100, WR)
	require.NoError(t, err)
	assert.Equal(t, WR, tok.Type)
	assert.NotEmpty(t, tok.ID)
}

func TestLockExclusion_Invariant4(t *testing.T) {
	s := NewServer()
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, p1(), "/pd/f", 0, 50, WR)
	require.NoError(t, err)

	// p2 requests an overlapping WR range held by a single owner (p1):
	// this is resolvable by revocation, not the multi-owner reject case.
	tok2, err := s.AcquireLock(ctx, p2(), "/pd/f", 25, 50, WR)
	require.NoError(t, err)

	toks := s.ListTokens("/pd/f")
	require.Len(t, toks, 1, "revoked token must be gone, leaving only the new grant")
	assert.Equal(t, tok2.ID, toks[0].ID)
}

func TestMultiConflictingOwnerIsRejected(t *testing.T) {
	s := NewServer()
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, p1(), "/pd/f", 0, 10, WR)
	require.NoError(t, err)

	p3 := addr.New([]byte("p3"), []byte("p3"))
	_, err = s.AcquireLock(ctx, p3, "/pd/f", 10, 10, WR)
	require.NoError(t, err)

	// Now request [0,20) which conflicts with both p1's and p3's tokens.
	_, err = s.AcquireLock(ctx, p2(), "/pd/f", 0, 20, WR)
	assert.ErrorIs(t, err, ErrLockConflict)
}

func TestUpgradeIdempotence_Invariant5(t *testing.T) {
	s := NewServer()
	ctx := context.Background()

	rd, err := s.AcquireLock(ctx, p1(), "/pd/f", 0, 100, RD)
	require.NoError(t, err)

	wr, err := s.AcquireLock(ctx, p1(), "/pd/f", 0, 100, WR)
	require.NoError(t, err)

	assert.Equal(t, rd.ID, wr.ID, "upgrade must flip the existing token in place")
	toks := s.ListTokens("/pd/f")
	require.Len(t, toks, 1)
	assert.Equal(t, WR, toks[0].Type)
}

func TestParallelRDGrantedToDistinctOwners(t *testing.T) {
	s := NewServer()
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, p1(), "/pd/f", 0, 100, RD)
	require.NoError(t, err)
	_, err = s.AcquireLock(ctx, p2(), "/pd/f", 50, 100, RD)
	require.NoError(t, err)

	assert.Len(t, s.ListTokens("/pd/f"), 2)
}

func TestReleaseClientCleansUpEverywhere_Invariant8(t *testing.T) {
	s := NewServer()
	ctx := context.Background()

	_, err := s.AcquireLock(ctx, p1(), "/pd/a", 0, 10, WR)
	require.NoError(t, err)
	_, err = s.AcquireLock(ctx, p1(), "/pd/b", 0, 10, RD)
	require.NoError(t, err)
	_, err = s.AcquireLock(ctx, p2(), "/pd/b", 20, 10, RD)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseLockClient(ctx, p1()))

	for _, tok := range s.ListTokens("/pd/a") {
		assert.False(t, tok.Owner.Equal(p1()))
	}
	for _, tok := range s.ListTokens("/pd/b") {
		assert.False(t, tok.Owner.Equal(p1()))
	}
}

func TestDelegatorShortCircuitsOnCachedToken(t *testing.T) {
	s := NewServer()
	d := NewDelegator(s)
	ctx := context.Background()

	tok1, err := d.AcquireLock(ctx, p1(), "/pd/f", 0, 100, RD)
	require.NoError(t, err)

	tok2, err := d.AcquireLock(ctx, p1(), "/pd/f", 10, 20, RD)
	require.NoError(t, err)

	assert.Equal(t, tok1.ID, tok2.ID, "a covering cached RD token must satisfy a narrower RD request locally")
}

func TestDelegatorConflictForwardsToServer_S5(t *testing.T) {
	s := NewServer()
	d1 := NewDelegator(s)
	d2 := NewDelegator(s)
	ctx := context.Background()

	_, err := d1.AcquireLock(ctx, p1(), "/pd/f", 0, 100, WR)
	require.NoError(t, err)

	// p2, via a different delegator, requests an overlapping WR range.
	_, err = d2.AcquireLock(ctx, p2(), "/pd/f", 50, 150, WR)
	require.NoError(t, err)

	toks := s.ListTokens("/pd/f")
	require.Len(t, toks, 1, "server must never simultaneously report two overlapping WR tokens")
	assert.Equal(t, WR, toks[0].Type)
}

func TestDelegatorRevokeDropsLocalToken(t *testing.T) {
	s := NewServer()
	d := NewDelegator(s)
	ctx := context.Background()

	tok, err := d.AcquireLock(ctx, p1(), "/pd/f", 0, 100, WR)
	require.NoError(t, err)

	require.NoError(t, d.Revoke(ctx, tok))

	// Re-acquiring must go back to the server since the local copy is gone.
	tok2, err := d.AcquireLock(ctx, p1(), "/pd/f", 0, 100, WR)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, tok2.ID, "server still holds the original grant")
}

func TestDelegatorCollapsesConcurrentMisses(t *testing.T) {
	s := NewServer()
	d := NewDelegator(s)
	ctx := context.Background()

	const n = 8
	toks := make([]*Token, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = d.AcquireLock(ctx, p1(), "/pd/f", 0, 100, RD)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, toks[0].ID, toks[i].ID, "concurrent misses for the same range must collapse to one grant")
	}

	entries := 0
	for _, t := range d.local["/pd/f"] {
		if t.ID == toks[0].ID {
			entries++
		}
	}
	assert.Equal(t, 1, entries, "the collapsed grant must be cached exactly once")
}

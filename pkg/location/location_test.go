package location

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

func p1() addr.Address { return addr.New([]byte("p1"), []byte("p1")) }
func p2() addr.Address { return addr.New([]byte("p2"), []byte("p2")) }

func TestQueryUnpostedFileReturnsEmpty(t *testing.T) {
	s := New()
	owners, err := s.Query(context.Background(), "/pd/never-posted", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestPostThenQueryReturnsOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 0, 100))

	owners, err := s.Query(ctx, "/pd/f", 10, 20)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Addr.Equal(p1()))
	assert.Equal(t, uint64(10), owners[0].Offset)
	assert.Equal(t, uint64(20), owners[0].Count)
}

func TestLaterPostSupersedesOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 0, 100))
	require.NoError(t, s.Post(ctx, p2(), "/pd/f", 50, 50))

	owners, err := s.Query(ctx, "/pd/f", 0, 100)
	require.NoError(t, err)

	var p1Bytes, p2Bytes uint64
	for _, o := range owners {
		switch {
		case o.Addr.Equal(p1()):
			p1Bytes += o.Count
		case o.Addr.Equal(p2()):
			p2Bytes += o.Count
		}
	}
	assert.Equal(t, uint64(50), p1Bytes)
	assert.Equal(t, uint64(50), p2Bytes)
}

func TestStatReflectsHighestPostedByte(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok := s.Stat(ctx, "/pd/f")
	assert.False(t, ok)

	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 0, 100))
	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 1000, 1))

	size, ok := s.Stat(ctx, "/pd/f")
	require.True(t, ok)
	assert.Equal(t, uint64(1001), size)
}

func TestQuerySpanningGapReturnsOnlyPostedPortions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 0, 10))
	require.NoError(t, s.Post(ctx, p1(), "/pd/f", 50, 10))

	owners, err := s.Query(ctx, "/pd/f", 0, 60)
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, uint64(0), owners[0].Offset)
	assert.Equal(t, uint64(50), owners[1].Offset)
}

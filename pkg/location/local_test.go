package location

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

func TestLocalClientPostAttributesToSelf(t *testing.T) {
	svc := New()
	self := addr.New([]byte("self"), []byte("self"))
	c := NewLocalClient(svc, self)
	ctx := context.Background()

	require.NoError(t, c.Post(ctx, "/pd/f", 0, 10))

	owners, err := c.Query(ctx, "/pd/f", 0, 10)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Addr.Equal(self))
}

func TestLocalClientPostAllPostsEveryInterval(t *testing.T) {
	svc := New()
	self := addr.New([]byte("self"), []byte("self"))
	c := NewLocalClient(svc, self)
	ctx := context.Background()

	require.NoError(t, c.PostAll(ctx, "/pd/f", []wire.Interval{
		{Offset: 0, Count: 5},
		{Offset: 10, Count: 5},
	}))

	size, ok, err := c.Stat(ctx, "/pd/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(15), size)
}

func TestLocalClientStatUnpostedFile(t *testing.T) {
	c := NewLocalClient(New(), addr.New([]byte("self"), []byte("self")))
	_, ok, err := c.Stat(context.Background(), "/pd/never")
	require.NoError(t, err)
	assert.False(t, ok)
}

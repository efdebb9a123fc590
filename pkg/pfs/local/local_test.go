package local

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/pfs"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	n, err := s.PWrite(ctx, "/pd/f", 10, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got := make([]byte, 5)
	n, err = s.PRead(ctx, "/pd/f", 10, got)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(got))
}

func TestWritePastEndZeroFillsGap(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = s.PWrite(ctx, "/pd/g", 5, []byte("x"))
	require.NoError(t, err)

	size, err := s.Stat(ctx, "/pd/g")
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	got := make([]byte, 5)
	n, err := s.PRead(ctx, "/pd/g", 0, got)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, got)
}

func TestFlushSucceedsOnOpenHandle(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = s.PWrite(ctx, "/pd/f", 0, []byte("x"))
	require.NoError(t, err)
	assert.NoError(t, s.Flush(ctx, "/pd/f"))
}

func TestStatUnknownPathReturnsErrNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Stat(context.Background(), "/pd/missing")
	assert.ErrorIs(t, err, pfs.ErrNotFound)
}

func TestPathTraversalIsConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	full, err := s.diskPath("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, root))
}

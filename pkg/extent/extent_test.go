package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

func testOwner() addr.Address {
	return addr.New([]byte("dev"), []byte("iface"))
}

type memScratch struct {
	data []byte
}

func (m *memScratch) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func TestAddDisjointAfterOverlap(t *testing.T) {
	idx := New()
	owner := testOwner()

	idx.Add(0, 9, 0, owner)
	idx.Add(5, 14, 100, owner)

	snap := idx.Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.LessOrEqual(t, snap[i-1].LogicalEnd, snap[i].LogicalStart-1,
			"extents must remain disjoint and ordered after overlap")
	}
	// Union must still be [0,14].
	var covered uint64
	for _, e := range snap {
		covered += e.Len()
	}
	assert.Equal(t, uint64(15), covered)
}

func TestOverlapOverwrite_S4(t *testing.T) {
	// Rank 0 writes "AAAA" at offset 0 then "BB" at offset 1.
	idx := New()
	owner := testOwner()
	scratch := &memScratch{data: []byte("AAAABB")}

	idx.Add(0, 3, 0, owner) // "AAAA" at local offset 0
	idx.Add(1, 2, 4, owner) // "BB" at local offset 4

	dst := make([]byte, 4)
	n, err := idx.ReadLocal(0, 3, scratch, dst)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "ABBA", string(dst))
}

func TestReadLocalGap(t *testing.T) {
	idx := New()
	idx.Add(0, 3, 0, testOwner())
	idx.Add(10, 13, 4, testOwner())

	dst := make([]byte, 14)
	_, err := idx.ReadLocal(0, 13, &memScratch{data: make([]byte, 8)}, dst)
	assert.ErrorIs(t, err, ErrGap)
}

func TestReadLocalEmptyIndexIsGap(t *testing.T) {
	idx := New()
	dst := make([]byte, 1)
	_, err := idx.ReadLocal(0, 0, &memScratch{}, dst)
	assert.ErrorIs(t, err, ErrGap)
}

func TestWriteThenReadLocality_S_Property2(t *testing.T) {
	idx := New()
	owner := testOwner()
	buf := []byte("hello world this is a test payload")
	scratch := &memScratch{data: buf}

	idx.Add(100, 100+uint64(len(buf))-1, 0, owner)

	dst := make([]byte, len(buf))
	n, err := idx.ReadLocal(100, 100+uint64(len(buf))-1, scratch, dst)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, buf, dst)
}

func TestFindReturnsIntersectingExtent(t *testing.T) {
	idx := New()
	idx.Add(0, 9, 0, testOwner())
	idx.Add(20, 29, 100, testOwner())

	e, ok := idx.Find(25, 26)
	require.True(t, ok)
	assert.Equal(t, uint64(20), e.LogicalStart)

	_, ok = idx.Find(10, 19)
	assert.False(t, ok)
}

func TestIterInOrder(t *testing.T) {
	idx := New()
	idx.Add(20, 29, 0, testOwner())
	idx.Add(0, 9, 100, testOwner())

	first, ok := idx.Iter(nil)
	require.True(t, ok)
	assert.Equal(t, uint64(0), first.LogicalStart)

	second, ok := idx.Iter(&first)
	require.True(t, ok)
	assert.Equal(t, uint64(20), second.LogicalStart)

	_, ok = idx.Iter(&second)
	assert.False(t, ok)
}

func TestCountAndMax(t *testing.T) {
	idx := New()
	assert.Equal(t, 0, idx.Count())
	_, ok := idx.Max()
	assert.False(t, ok)

	idx.Add(0, 9, 0, testOwner())
	idx.Add(20, 29, 0, testOwner())

	assert.Equal(t, 2, idx.Count())
	max, ok := idx.Max()
	require.True(t, ok)
	assert.Equal(t, uint64(29), max)
}

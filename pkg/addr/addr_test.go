package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	a := New([]byte("mlx5_0:1"), []byte("10.0.0.1:41000"))

	got, err := FromBytes(a.Bytes())
	require.NoError(t, err)
	assert.True(t, a.Equal(got), "round-tripped address must equal original bytewise")
}

func TestRoundTripEmptyParts(t *testing.T) {
	a := New(nil, nil)

	got, err := FromBytes(a.Bytes())
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
	assert.True(t, got.IsZero())
}

func TestEqualDistinguishesParts(t *testing.T) {
	a := New([]byte("dev-a"), []byte("if-a"))
	b := New([]byte("dev-b"), []byte("if-a"))
	assert.False(t, a.Equal(b))
}

func TestStringDoesNotPanic(t *testing.T) {
	a := New([]byte{0xde, 0xad}, []byte{0xbe, 0xef})
	assert.Equal(t, "dead/beef", a.String())
}

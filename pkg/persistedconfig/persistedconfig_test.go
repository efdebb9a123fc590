package persistedconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

func TestWriteReadServerAddrRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := addr.New([]byte("device-bytes"), []byte("iface-bytes"))

	path := filepath.Join(dir, GlobalConfigName)
	require.NoError(t, WriteServerAddr(path, a))

	got, err := ReadServerAddr(path)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))
}

func TestWriteGlobalAndNodeServerAddrUseExpectedNames(t *testing.T) {
	dir := t.TempDir()
	a := addr.New([]byte("d"), []byte("i"))

	require.NoError(t, WriteGlobalServerAddr(dir, a))
	require.FileExists(t, filepath.Join(dir, "tfs.cfg"))

	require.NoError(t, WriteNodeServerAddr(dir, "node03", a))
	require.FileExists(t, filepath.Join(dir, "tfs-node03.cfg"))
}

func TestNodelistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	hosts := []string{"node01", "node02", "node03"}

	require.NoError(t, WriteNodelist(dir, hosts))

	got, err := ReadNodelist(dir)
	require.NoError(t, err)
	assert.Equal(t, hosts, got)
}

func TestReadNodelistEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteNodelist(dir, nil))

	got, err := ReadNodelist(dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadServerAddrMissingFile(t *testing.T) {
	_, err := ReadServerAddr(filepath.Join(t.TempDir(), "tfs.cfg"))
	assert.Error(t, err)
}

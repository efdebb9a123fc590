package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TANGRAM_PERSIST_DIR", "")
	t.Setenv("TANGRAM_BUFFER_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/pfs/tangramfs", cfg.PersistDir)
	assert.Equal(t, "/tmp/tangramfs", cfg.BufferDir)
	assert.Equal(t, SemanticsStrong, cfg.Semantics)
	assert.False(t, cfg.UseLocalServer)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "local", cfg.PFSBackend)
	assert.Equal(t, "0.0.0.0:0", cfg.ListenAddr)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TANGRAM_PERSIST_DIR", "/mnt/pfs/job42")
	t.Setenv("TANGRAM_BUFFER_DIR", "/local/scratch")
	t.Setenv("TANGRAM_SEMANTICS", "2")
	t.Setenv("TANGRAM_USE_LOCAL_SERVER", "true")
	t.Setenv("TANGRAM_DEBUG", "1")
	t.Setenv("TANGRAM_UCX_RPC_DEV", "mlx5_0")
	t.Setenv("TANGRAM_UCX_RPC_TL", "rc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/pfs/job42", cfg.PersistDir)
	assert.Equal(t, "/local/scratch", cfg.BufferDir)
	assert.Equal(t, SemanticsRelaxed, cfg.Semantics)
	assert.True(t, cfg.UseLocalServer)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "mlx5_0", cfg.RPCDevice)
	assert.Equal(t, "rc", cfg.RPCTransport)
}

func TestSemanticsString(t *testing.T) {
	assert.Equal(t, "STRONG", SemanticsStrong.String())
	assert.Equal(t, "COMMIT", SemanticsCommit.String())
	assert.Equal(t, "RELAXED", SemanticsRelaxed.String())
}

func TestValidateRejectsMissingDirs(t *testing.T) {
	cfg := &Config{}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateRequiresS3BucketForS3Backend(t *testing.T) {
	cfg := &Config{PersistDir: "/p", BufferDir: "/b", PFSBackend: "s3"}
	err := Validate(cfg)
	require.Error(t, err)

	cfg.S3Bucket = "my-bucket"
	require.NoError(t, Validate(cfg))
}

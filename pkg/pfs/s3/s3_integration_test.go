//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	pfss3 "github.com/tangramfs/tangramfs/pkg/pfs/s3"
)

// TestS3StoreAgainstMinIO runs pkg/pfs/s3 against a real MinIO
// container. Gated on TANGRAM_TEST_CONTAINERS=1 so a plain go test
// doesn't need Docker.
func TestS3StoreAgainstMinIO(t *testing.T) {
	if os.Getenv("TANGRAM_TEST_CONTAINERS") != "1" {
		t.Skip("set TANGRAM_TEST_CONTAINERS=1 to run container-backed tests")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "tangram",
			"MINIO_ROOT_PASSWORD": "tangram-secret",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("tangram", "tangram-secret", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	})

	const bucket = "tangramfs-pfs-test"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket})
	require.NoError(t, err)

	store := pfss3.New(client, pfss3.Config{Bucket: bucket})
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.PWrite(ctx, "/pd/f", 0, []byte("abcdefgh"))
	require.NoError(t, err)

	size, err := store.Stat(ctx, "/pd/f")
	require.NoError(t, err)
	require.Equal(t, int64(8), size)

	got := make([]byte, 4)
	n, err := store.PRead(ctx, "/pd/f", 2, got)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "cdef", string(got))
}

package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
)

func newLoopbackPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	a, err := New(addr.New([]byte("a"), []byte("a")), "127.0.0.1:0")
	require.NoError(t, err)
	b, err := New(addr.New([]byte("b"), []byte("b")), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func pollProgress(t *testing.T, tr *Transport, timeout time.Duration) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := tr.Progress(context.Background(), 0); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(time.Millisecond)
	}
	return lastErr
}

func TestSendAMDeliversAcrossTCP(t *testing.T) {
	a, b := newLoopbackPair(t)

	received := make(chan []byte, 1)
	b.SetAMHandler(1, func(ctx context.Context, from addr.Address, payload []byte, reply transport.Responder) error {
		received <- payload
		return nil
	})

	ctx := context.Background()
	ep, err := a.CreateEndpoint(ctx, []byte(b.ListenAddr()), b.LocalAddr())
	require.NoError(t, err)
	require.NoError(t, a.SendAM(ctx, ep, 1, []byte("hello")))

	require.NoError(t, pollProgress(t, b, time.Second))
	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestReplyWritesBackOnSameConnection(t *testing.T) {
	a, b := newLoopbackPair(t)
	const reqKind, respKind int32 = 1, 2

	b.SetAMHandler(reqKind, func(ctx context.Context, from addr.Address, payload []byte, reply transport.Responder) error {
		return reply(ctx, respKind, []byte("pong"))
	})

	replies := make(chan []byte, 1)
	a.SetAMHandler(respKind, func(ctx context.Context, from addr.Address, payload []byte, reply transport.Responder) error {
		replies <- payload
		return nil
	})

	ctx := context.Background()
	ep, err := a.CreateEndpoint(ctx, []byte(b.ListenAddr()), b.LocalAddr())
	require.NoError(t, err)
	require.NoError(t, a.SendAM(ctx, ep, reqKind, []byte("ping")))

	require.NoError(t, pollProgress(t, b, time.Second))
	require.NoError(t, pollProgress(t, a, time.Second))

	select {
	case got := <-replies:
		assert.Equal(t, []byte("pong"), got)
	case <-time.After(time.Second):
		t.Fatal("reply never arrived")
	}
}

func TestRMARequestOverTCP(t *testing.T) {
	a, b := newLoopbackPair(t)

	b.SetRMAHandler(func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error) {
		return []byte("extent-bytes"), nil
	})

	ctx := context.Background()
	_, err := a.CreateEndpoint(ctx, []byte(b.ListenAddr()), b.LocalAddr())
	require.NoError(t, err)

	recvBuf := make([]byte, 32)
	n, err := a.RMARequest(ctx, b.LocalAddr(), []byte("fetch-req"), recvBuf)
	require.NoError(t, err)
	assert.Equal(t, "extent-bytes", string(recvBuf[:n]))
}

func TestRMARequestWithoutEndpointFails(t *testing.T) {
	a, b := newLoopbackPair(t)

	recvBuf := make([]byte, 32)
	_, err := a.RMARequest(context.Background(), b.LocalAddr(), []byte("x"), recvBuf)
	assert.ErrorIs(t, err, transport.ErrTransport)
}

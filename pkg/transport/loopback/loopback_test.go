package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
)

func addrOf(s string) addr.Address { return addr.New([]byte(s), []byte(s)) }

func TestSendAMDeliversToHandler(t *testing.T) {
	a := New(addrOf("node-a"))
	b := New(addrOf("node-b"))
	defer a.Close()
	defer b.Close()

	received := make(chan []byte, 1)
	b.SetAMHandler(1, func(ctx context.Context, from addr.Address, payload []byte, reply transport.Responder) error {
		received <- payload
		return nil
	})

	ctx := context.Background()
	ep, err := a.CreateEndpoint(ctx, nil, b.LocalAddr())
	require.NoError(t, err)
	require.NoError(t, a.SendAM(ctx, ep, 1, []byte("hello")))

	require.NoError(t, b.Progress(ctx, 0))
	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestReplyRoundTrip(t *testing.T) {
	a := New(addrOf("node-a2"))
	b := New(addrOf("node-b2"))
	defer a.Close()
	defer b.Close()

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
	ep, err := a.CreateEndpoint(ctx, nil, b.LocalAddr())
	require.NoError(t, err)
	require.NoError(t, a.SendAM(ctx, ep, reqKind, []byte("ping")))

	require.NoError(t, b.Progress(ctx, 0))
	require.NoError(t, a.Progress(ctx, 0))

	select {
	case got := <-replies:
		assert.Equal(t, []byte("pong"), got)
	case <-time.After(time.Second):
		t.Fatal("reply never arrived")
	}
}

func TestRMARequestBlocksUntilServed(t *testing.T) {
	a := New(addrOf("node-a3"))
	b := New(addrOf("node-b3"))
	defer a.Close()
	defer b.Close()

	b.SetRMAHandler(func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error) {
		return []byte("extent-bytes"), nil
	})

	go func() {
		ctx := context.Background()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = b.Progress(ctx, 0)
			time.Sleep(time.Millisecond)
		}
	}()

	recvBuf := make([]byte, 32)
	n, err := a.RMARequest(context.Background(), b.LocalAddr(), []byte("fetch-req"), recvBuf)
	require.NoError(t, err)
	assert.Equal(t, "extent-bytes", string(recvBuf[:n]))
}

func TestSendAMUnknownPeerFails(t *testing.T) {
	a := New(addrOf("node-a4"))
	defer a.Close()

	_, err := a.CreateEndpoint(context.Background(), nil, addrOf("ghost"))
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	a := New(addrOf("node-dup"))
	defer a.Close()

	assert.Panics(t, func() {
		New(addrOf("node-dup"))
	})
}

package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport/loopback"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

func TestMPISizeStubReportsJobSize(t *testing.T) {
	serverAddr := addr.New([]byte("ctl-srv"), []byte("ctl-srv"))
	tr := loopback.New(serverAddr)
	t.Cleanup(func() { _ = tr.Close() })

	srv := NewServer(tr, WithWorkers(1))
	for kind, h := range ControlHandlers(4, nil) {
		srv.Register(kind, h)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()

	clientAddr := addr.New([]byte("ctl-c"), []byte("ctl-c"))
	ctr := loopback.New(clientAddr)
	t.Cleanup(func() { _ = ctr.Close() })
	c := NewClient(ctr)
	c.RegisterResponseKinds(wire.MPISize)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_ = ctr.Progress(ctx, 0)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ep, err := ctr.CreateEndpoint(ctx, nil, serverAddr)
	require.NoError(t, err)

	size, err := MPISizeStub(ctx, c, ep)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
}

func TestStopStubInvokesShutdown(t *testing.T) {
	serverAddr := addr.New([]byte("ctl-srv2"), []byte("ctl-srv2"))
	tr := loopback.New(serverAddr)
	t.Cleanup(func() { _ = tr.Close() })

	stopped := make(chan struct{})
	srv := NewServer(tr, WithWorkers(1))
	for kind, h := range ControlHandlers(1, func() { close(stopped) }) {
		srv.Register(kind, h)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()

	clientAddr := addr.New([]byte("ctl-c2"), []byte("ctl-c2"))
	ctr := loopback.New(clientAddr)
	t.Cleanup(func() { _ = ctr.Close() })
	c := NewClient(ctr)

	ep, err := ctr.CreateEndpoint(ctx, nil, serverAddr)
	require.NoError(t, err)

	require.NoError(t, StopStub(ctx, c, ep))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not invoked")
	}
}

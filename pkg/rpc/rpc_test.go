package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/location"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/transport/loopback"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

func startServer(t *testing.T, serverAddr addr.Address, loc *location.Service, lockSrv *lock.Server) transport.Transport {
	t.Helper()
	tr := loopback.New(serverAddr)
	t.Cleanup(func() { _ = tr.Close() })

	srv := NewServer(tr, WithWorkers(2))
	for kind, h := range LocationHandlers(loc) {
		srv.Register(kind, h)
	}
	for kind, h := range LockHandlers(lockSrv) {
		srv.Register(kind, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()
	return tr
}

func newClientSide(t *testing.T, clientAddr addr.Address) (transport.Transport, *Client) {
	t.Helper()
	tr := loopback.New(clientAddr)
	t.Cleanup(func() { _ = tr.Close() })
	c := NewClient(tr)
	c.RegisterResponseKinds(wire.PostResp, wire.QueryResp, wire.StatResp,
		wire.AcquireLockResp, wire.ReleaseLockResp, wire.ReleaseLockFileResp, wire.ReleaseLockClientResp)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_ = tr.Progress(ctx, 0)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return tr, c
}

func TestPostQueryStatRoundTrip(t *testing.T) {
	serverAddr := addr.New([]byte("srv"), []byte("srv"))
	loc := location.New()
	startServer(t, serverAddr, loc, lock.NewServer())

	clientAddr := addr.New([]byte("c1"), []byte("c1"))
	_, c := newClientSide(t, clientAddr)

	ctx := context.Background()
	ep, err := c.t.CreateEndpoint(ctx, nil, serverAddr)
	require.NoError(t, err)

	_, err = c.CallPayload(ctx, ep, wire.PostReq, wire.PostResp, wire.Payload{
		Path:      "/pd/f",
		Intervals: []wire.Interval{{Offset: 0, Count: 100}},
	})
	require.NoError(t, err)

	raw, err := c.Call(ctx, ep, wire.QueryReq, wire.Payload{
		Path:      "/pd/f",
		Intervals: []wire.Interval{{Offset: 10, Count: 20}},
	})
	require.NoError(t, err)
	owners, err := DecodeQueryResp(raw)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Addr.Equal(clientAddr))

	statResp, err := c.CallPayload(ctx, ep, wire.StatReq, wire.StatResp, wire.Payload{Path: "/pd/f"})
	require.NoError(t, err)
	require.Len(t, statResp.Intervals, 1)
	assert.Equal(t, uint64(100), statResp.Intervals[0].Count)
}

func TestAcquireLockRoundTrip(t *testing.T) {
	serverAddr := addr.New([]byte("srv2"), []byte("srv2"))
	startServer(t, serverAddr, location.New(), lock.NewServer())

	clientAddr := addr.New([]byte("c2"), []byte("c2"))
	_, c := newClientSide(t, clientAddr)

	ctx := context.Background()
	ep, err := c.t.CreateEndpoint(ctx, nil, serverAddr)
	require.NoError(t, err)

	stub := NewServerStub(c, ep)
	tok, err := stub.AcquireLock(ctx, clientAddr, "/pd/g", 0, 50, lock.WR)
	require.NoError(t, err)
	assert.Equal(t, lock.WR, tok.Type)
	assert.NotEmpty(t, tok.ID)

	require.NoError(t, stub.ReleaseLock(ctx, clientAddr, "/pd/g", 0, 50))
}

func TestRevokeLockDeliveredAsActiveMessage(t *testing.T) {
	serverAddr := addr.New([]byte("srv3"), []byte("srv3"))
	tr := loopback.New(serverAddr)
	t.Cleanup(func() { _ = tr.Close() })
	notifier := NewRemoteNotifier(tr)

	ownerAddr := addr.New([]byte("owner"), []byte("owner"))
	ownerTr := loopback.New(ownerAddr)
	t.Cleanup(func() { _ = ownerTr.Close() })

	received := make(chan *lock.Token, 1)
	ownerTr.SetAMHandler(int32(wire.RevokeLock), func(_ context.Context, _ addr.Address, payload []byte, _ transport.Responder) error {
		tok, err := decodeTokenResp(payload)
		if err != nil {
			return err
		}
		received <- tok
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_ = ownerTr.Progress(ctx, 0)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	tok := &lock.Token{ID: "tok-1", File: "/pd/f", Offset: 0, Count: 50, Type: lock.WR, Owner: ownerAddr}
	require.NoError(t, notifier.Revoke(context.Background(), tok))

	select {
	case got := <-received:
		assert.Equal(t, tok.ID, got.ID)
		assert.Equal(t, tok.File, got.File)
	case <-time.After(time.Second):
		t.Fatal("revoke never delivered")
	}
}

func TestLocationStubQueryCollapsesConcurrentCalls(t *testing.T) {
	serverAddr := addr.New([]byte("srv4"), []byte("srv4"))
	loc := location.New()
	owner := addr.New([]byte("owner4"), []byte("owner4"))
	require.NoError(t, loc.Post(context.Background(), owner, "/pd/h", 0, 100))
	startServer(t, serverAddr, loc, lock.NewServer())

	clientAddr := addr.New([]byte("c4"), []byte("c4"))
	_, c := newClientSide(t, clientAddr)

	ctx := context.Background()
	ep, err := c.t.CreateEndpoint(ctx, nil, serverAddr)
	require.NoError(t, err)

	stub := NewLocationStub(c, ep)

	const n = 8
	results := make(chan []location.Owner, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owners, err := stub.Query(ctx, "/pd/h", 10, 20)
			if err != nil {
				errs <- err
				return
			}
			results <- owners
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for owners := range results {
		require.Len(t, owners, 1)
		assert.True(t, owners[0].Addr.Equal(owner))
		assert.Equal(t, uint64(10), owners[0].Offset)
		assert.Equal(t, uint64(20), owners[0].Count)
	}
}

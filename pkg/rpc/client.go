package rpc

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// Client implements sendrecv_server (§4.3): a synchronous call from
// the caller's viewpoint, posted as an active message and resolved
// when the matching response active message arrives. The caller's
// goroutine blocks on a per-call channel rather than spinning the
// transport's progress loop itself; something else (typically the
// same goroutine driving Server.Serve, or a dedicated progress loop
// for a pure client) must be pumping t.Progress for the response to
// ever arrive.
type Client struct {
	t transport.Transport

	mu      sync.Mutex
	pending map[uint64]chan []byte
	nextID  uint64

	respKinds []wire.MessageKind
}

// NewClient returns a Client bound to t. Call RegisterResponseKinds
// with every response message kind the caller will wait on before
// issuing any Call.
func NewClient(t transport.Transport) *Client {
	return &Client{t: t, pending: make(map[uint64]chan []byte)}
}

// RegisterResponseKinds installs the AM handlers that route incoming
// responses back to the blocked Call that is waiting for them.
func (c *Client) RegisterResponseKinds(kinds ...wire.MessageKind) {
	for _, k := range kinds {
		c.t.SetAMHandler(int32(k), c.responseHandler)
	}
}

func (c *Client) responseHandler(_ context.Context, _ addr.Address, payload []byte, _ transport.Responder) error {
	env, err := decodeEnvelope(payload)
	if err != nil {
		return fmt.Errorf("rpc: decode response envelope: %w", err)
	}

	c.mu.Lock()
	ch, ok := c.pending[env.id]
	if ok {
		delete(c.pending, env.id)
	}
	c.mu.Unlock()

	if !ok {
		// No waiter: either a duplicate delivery or the caller already
		// timed out. Not an error worth failing the progress loop over.
		return nil
	}
	ch <- env.payload
	return nil
}

// Call sends req of reqKind to peer over ep and blocks until a
// response arrives for this call's id or ctx is done, returning the
// raw response payload bytes. The caller must ensure something is
// driving the transport's Progress loop concurrently (the server's
// own Serve, or the caller's own loop).
func (c *Client) Call(ctx context.Context, ep transport.Endpoint, reqKind wire.MessageKind, req wire.Payload) ([]byte, error) {
	id := atomic.AddUint64(&c.nextID, 1)

	reqBytes, err := encodePayloadBytes(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}
	env, err := encodeEnvelope(envelope{id: id, payload: reqBytes})
	if err != nil {
		return nil, err
	}

	respCh := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	if err := c.t.SendAM(ctx, ep, int32(reqKind), env); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc: send %s: %w", reqKind, err)
	}

	select {
	case payload := <-respCh:
		return payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Send posts req of reqKind to peer over ep without waiting for a
// response, for fire-and-forget messages whose Handler returns
// NoReply (e.g. STOP_REQ).
func (c *Client) Send(ctx context.Context, ep transport.Endpoint, reqKind wire.MessageKind, req wire.Payload) error {
	id := atomic.AddUint64(&c.nextID, 1)

	reqBytes, err := encodePayloadBytes(req)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}
	env, err := encodeEnvelope(envelope{id: id, payload: reqBytes})
	if err != nil {
		return err
	}
	if err := c.t.SendAM(ctx, ep, int32(reqKind), env); err != nil {
		return fmt.Errorf("rpc: send %s: %w", reqKind, err)
	}
	return nil
}

// CallPayload is Call for the common case where the response uses the
// standard rpc_in payload encoding (post, release and stat do; query
// and acquire do not — see location.go's DecodeQueryResp and lock.go's
// decodeTokenResp).
func (c *Client) CallPayload(ctx context.Context, ep transport.Endpoint, reqKind, respKind wire.MessageKind, req wire.Payload) (wire.Payload, error) {
	raw, err := c.Call(ctx, ep, reqKind, req)
	if err != nil {
		return wire.Payload{}, err
	}
	resp, err := wire.DecodePayload(bytes.NewReader(raw))
	if err != nil {
		return wire.Payload{}, fmt.Errorf("rpc: decode %s response: %w", respKind, err)
	}
	return resp, nil
}

// Package loopback provides an in-process, channel-based transport.Transport
// for single-node testing: no network I/O, immediate registry-based
// peer lookup, grounded on the teacher's pattern of shipping a test
// double alongside the production transport implementation.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
)

// registry maps an address's string form to the live Transport bound to
// it, so CreateEndpoint / SendAM can resolve peers without a network.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Transport)
)

type message struct {
	kind    int32
	from    addr.Address
	payload []byte
}

type rmaRequest struct {
	from    addr.Address
	payload []byte
	resp    chan rmaResponse
}

type rmaResponse struct {
	data []byte
	err  error
}

// Transport is an in-process transport.Transport. Each Transport is
// registered under its own address; SendAM/RMARequest resolve the peer
// by address and enqueue directly onto its inbox.
type Transport struct {
	self addr.Address

	mu       sync.RWMutex
	handlers map[int32]transport.AMHandler
	rmaFn    func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error)

	inbox    chan message
	rmaInbox chan rmaRequest
	closed   chan struct{}
	closeOne sync.Once
}

// endpoint is a loopback-resolved peer handle; it is a thin wrapper
// since loopback needs no real connection setup.
type endpoint struct {
	peer addr.Address
}

func (e *endpoint) Addr() addr.Address { return e.peer }

// New creates and registers a Transport bound to self. It panics if
// self is already registered, since two transports cannot share one
// loopback address.
func New(self addr.Address) *Transport {
	t := &Transport{
		self:     self,
		handlers: make(map[int32]transport.AMHandler),
		inbox:    make(chan message, 256),
		rmaInbox: make(chan rmaRequest, 256),
		closed:   make(chan struct{}),
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	key := self.String()
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("loopback: transport already registered for address %s", key))
	}
	registry[key] = t
	return t
}

func lookup(peer addr.Address) (*Transport, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	t, ok := registry[peer.String()]
	return t, ok
}

// CreateEndpoint resolves peer in the loopback registry.
func (t *Transport) CreateEndpoint(_ context.Context, _ []byte, peer addr.Address) (transport.Endpoint, error) {
	if _, ok := lookup(peer); !ok {
		return nil, fmt.Errorf("%w: no loopback transport registered for peer", transport.ErrTransport)
	}
	return &endpoint{peer: peer}, nil
}

// DestroyEndpoint is a no-op for loopback: there is no connection state
// to release beyond the endpoint value itself.
func (t *Transport) DestroyEndpoint(transport.Endpoint) error { return nil }

// SendAM enqueues payload onto the peer's inbox for later Progress to
// dispatch. Fire-and-forget: SendAM does not wait for the handler.
func (t *Transport) SendAM(ctx context.Context, ep transport.Endpoint, kind int32, payload []byte) error {
	le, ok := ep.(*endpoint)
	if !ok {
		return fmt.Errorf("%w: not a loopback endpoint", transport.ErrTransport)
	}
	peer, ok := lookup(le.peer)
	if !ok {
		return fmt.Errorf("%w: peer transport gone", transport.ErrTransport)
	}

	msg := message{kind: kind, from: t.self, payload: payload}
	select {
	case peer.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-peer.closed:
		return fmt.Errorf("%w: peer transport closed", transport.ErrTransport)
	}
}

// SetAMHandler registers fn for kind, replacing any previous handler.
func (t *Transport) SetAMHandler(kind int32, fn transport.AMHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = fn
}

// SetRMAHandler registers the callback used to serve RMA fetches.
func (t *Transport) SetRMAHandler(fn func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rmaFn = fn
}

// RMARequest sends payload to peer and blocks until peer's Progress
// loop serves it via the registered RMA handler, copying into recvBuf.
func (t *Transport) RMARequest(ctx context.Context, peer addr.Address, payload []byte, recvBuf []byte) (int, error) {
	pt, ok := lookup(peer)
	if !ok {
		return 0, fmt.Errorf("%w: no loopback transport registered for peer", transport.ErrTransport)
	}

	req := rmaRequest{from: t.self, payload: payload, resp: make(chan rmaResponse, 1)}
	select {
	case pt.rmaInbox <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-pt.closed:
		return 0, fmt.Errorf("%w: peer transport closed", transport.ErrTransport)
	}

	select {
	case resp := <-req.resp:
		if resp.err != nil {
			return 0, resp.err
		}
		n := copy(recvBuf, resp.data)
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Progress dequeues and processes exactly one pending AM or RMA request
// for worker, or returns immediately if nothing is pending. worker is
// unused: loopback has a single shared inbox per transport.
func (t *Transport) Progress(ctx context.Context, _ int) error {
	select {
	case msg := <-t.inbox:
		return t.dispatch(ctx, msg)
	case req := <-t.rmaInbox:
		return t.serveRMA(ctx, req)
	default:
		return nil
	}
}

func (t *Transport) dispatch(ctx context.Context, msg message) error {
	t.mu.RLock()
	handler, ok := t.handlers[msg.kind]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler registered for kind %d", transport.ErrTransport, msg.kind)
	}

	reply := func(ctx context.Context, kind int32, payload []byte) error {
		ep, err := t.CreateEndpoint(ctx, nil, msg.from)
		if err != nil {
			return err
		}
		return t.SendAM(ctx, ep, kind, payload)
	}
	return handler(ctx, msg.from, msg.payload, reply)
}

func (t *Transport) serveRMA(ctx context.Context, req rmaRequest) error {
	t.mu.RLock()
	fn := t.rmaFn
	t.mu.RUnlock()
	if fn == nil {
		req.resp <- rmaResponse{err: fmt.Errorf("%w: no RMA handler registered", transport.ErrTransport)}
		return nil
	}
	data, err := fn(ctx, req.from, req.payload)
	req.resp <- rmaResponse{data: data, err: err}
	return nil
}

// LocalAddr returns this transport's bound address.
func (t *Transport) LocalAddr() addr.Address { return t.self }

// Close unregisters the transport and unblocks any pending sends.
func (t *Transport) Close() error {
	t.closeOne.Do(func() {
		close(t.closed)
		registryMu.Lock()
		delete(registry, t.self.String())
		registryMu.Unlock()
	})
	return nil
}

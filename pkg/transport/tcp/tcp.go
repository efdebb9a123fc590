// Package tcp is a minimal length-prefixed TCP transport.Transport,
// standing in for a real UCX/Mercury binding since this module cannot
// link UCX. cmd/tangramfsd uses it for both planes; it does not consult
// TANGRAM_UCX_RPC_TL / TANGRAM_UCX_RMA_TL to choose it.
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// rmaKind is a reserved message kind for RMA fetch frames, distinct
// from the RPC-plane message kinds in pkg/wire so a connection's
// reader loop can route RMA traffic without consulting the AM handler
// table.
const rmaKind = -1

const flagRMAReply = 1 << 0

// frame is the wire shape of one message on a TCP connection:
// kind:i32 | flags:u8 | xid:u64 | client_addr (pkg/wire opaque) | payload (pkg/wire opaque).
type frame struct {
	kind    int32
	flags   uint8
	xid     uint64
	from    addr.Address
	payload []byte
}

func writeFrame(w io.Writer, f frame) error {
	var hdr [13]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(f.kind))
	hdr[4] = f.flags
	binary.BigEndian.PutUint64(hdr[5:13], f.xid)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tcp: write frame header: %w", err)
	}
	if err := f.from.Marshal(w); err != nil {
		return fmt.Errorf("tcp: write frame addr: %w", err)
	}
	if err := wire.WriteOpaque(w, f.payload); err != nil {
		return fmt.Errorf("tcp: write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (frame, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		kind:  int32(binary.BigEndian.Uint32(hdr[0:4])),
		flags: hdr[4],
		xid:   binary.BigEndian.Uint64(hdr[5:13]),
	}
	from, err := addr.Unmarshal(r)
	if err != nil {
		return frame{}, fmt.Errorf("tcp: read frame addr: %w", err)
	}
	f.from = from
	payload, err := wire.ReadOpaque(r)
	if err != nil {
		return frame{}, fmt.Errorf("tcp: read frame payload: %w", err)
	}
	f.payload = payload
	return f, nil
}

// trackedConn pairs a TCP connection with the mutex serializing writes
// onto it: a reply to an inbound request and an RMA-serve reply can
// both originate from different goroutines for the same connection.
type trackedConn struct {
	conn   net.Conn
	sendMu sync.Mutex
}

func (tc *trackedConn) send(f frame) error {
	tc.sendMu.Lock()
	defer tc.sendMu.Unlock()
	return writeFrame(tc.conn, f)
}

// endpoint is a resolved peer: its dial address, used to find or
// create the pooled connection that reaches it.
type endpoint struct {
	dialAddr string
	peer     addr.Address
}

func (e *endpoint) Addr() addr.Address { return e.peer }

// inboundMsg pairs a received request frame with the connection it
// arrived on, so a reply can be written back on the same connection
// instead of requiring the receiver to dial the sender.
type inboundMsg struct {
	f  frame
	tc *trackedConn
}

// Transport is a TCP-backed transport.Transport. One Transport runs a
// single listener (accepting requests from peers) plus a pool of
// outbound connections (one per peer dialed so far).
type Transport struct {
	self     addr.Address
	listener net.Listener

	mu       sync.RWMutex
	handlers map[int32]transport.AMHandler
	rmaFn    func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error)

	connMu        sync.Mutex
	conns         map[string]*trackedConn
	peerDialAddrs map[string]string

	pendingMu sync.Mutex
	pending   map[uint64]chan frame
	nextXID   uint64

	inbox chan inboundMsg

	closed   chan struct{}
	closeOne sync.Once
}

// New binds a listener on listenAddr (e.g. "0.0.0.0:0") and returns a
// ready-to-use Transport identified by self. It starts the accept loop
// in a background goroutine; callers must still call Progress to
// dispatch received messages to registered handlers.
func New(self addr.Address, listenAddr string) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", transport.ErrTransport, listenAddr, err)
	}

	t := &Transport{
		self:          self,
		listener:      ln,
		handlers:      make(map[int32]transport.AMHandler),
		conns:         make(map[string]*trackedConn),
		peerDialAddrs: make(map[string]string),
		pending:       make(map[uint64]chan frame),
		inbox:         make(chan inboundMsg, 256),
		closed:        make(chan struct{}),
	}

	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				logger.Warn("tcp transport: accept error", logger.Err(err))
				return
			}
		}
		go t.connLoop(&trackedConn{conn: conn})
	}
}

func (t *Transport) connLoop(tc *trackedConn) {
	defer tc.conn.Close()
	for {
		f, err := readFrame(tc.conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug("tcp transport: connection read error", logger.Err(err))
			}
			return
		}

		switch {
		case f.flags&flagRMAReply != 0:
			t.deliverPending(f)
		case f.kind == rmaKind:
			t.serveRMA(tc, f)
		default:
			select {
			case t.inbox <- inboundMsg{f: f, tc: tc}:
			case <-t.closed:
				return
			}
		}
	}
}

func (t *Transport) deliverPending(f frame) {
	t.pendingMu.Lock()
	ch, ok := t.pending[f.xid]
	if ok {
		delete(t.pending, f.xid)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}

func (t *Transport) serveRMA(tc *trackedConn, f frame) {
	t.mu.RLock()
	fn := t.rmaFn
	t.mu.RUnlock()

	var data []byte
	if fn != nil {
		var err error
		data, err = fn(context.Background(), f.from, f.payload)
		if err != nil {
			logger.Debug("tcp transport: RMA serve failed", logger.Err(err))
			data = nil
		}
	}

	reply := frame{kind: rmaKind, flags: flagRMAReply, xid: f.xid, from: t.self, payload: data}
	if err := tc.send(reply); err != nil {
		logger.Debug("tcp transport: RMA reply write failed", logger.Err(err))
	}
}

func (t *Transport) dialConn(dialAddr string) (*trackedConn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if tc, ok := t.conns[dialAddr]; ok {
		return tc, nil
	}

	conn, err := net.Dial("tcp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", transport.ErrTransport, dialAddr, err)
	}
	tc := &trackedConn{conn: conn}
	t.conns[dialAddr] = tc
	go t.connLoop(tc)
	return tc, nil
}

// CreateEndpoint resolves a dial address to peer. iface must be the
// peer's "host:port" dial string.
func (t *Transport) CreateEndpoint(_ context.Context, iface []byte, peer addr.Address) (transport.Endpoint, error) {
	if len(iface) == 0 {
		return nil, fmt.Errorf("%w: empty iface for CreateEndpoint", transport.ErrTransport)
	}
	dialAddr := string(iface)

	t.connMu.Lock()
	t.peerDialAddrs[peer.String()] = dialAddr
	t.connMu.Unlock()

	return &endpoint{dialAddr: dialAddr, peer: peer}, nil
}

// DestroyEndpoint is a no-op: the underlying TCP connection is pooled
// and shared across endpoints to the same dial address.
func (t *Transport) DestroyEndpoint(transport.Endpoint) error { return nil }

// SendAM fire-and-forgets kind/payload to ep over its pooled connection.
func (t *Transport) SendAM(ctx context.Context, ep transport.Endpoint, kind int32, payload []byte) error {
	te, ok := ep.(*endpoint)
	if !ok {
		return fmt.Errorf("%w: not a tcp endpoint", transport.ErrTransport)
	}
	tc, err := t.dialConn(te.dialAddr)
	if err != nil {
		return err
	}
	return tc.send(frame{kind: kind, from: t.self, payload: payload})
}

// SetAMHandler registers fn for kind.
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

// RMARequest blocks until the peer identified by peer (previously
// resolved via CreateEndpoint) replies to the fetch or ctx is done.
func (t *Transport) RMARequest(ctx context.Context, peer addr.Address, payload []byte, recvBuf []byte) (int, error) {
	dialAddr, ok := t.dialAddrFor(peer)
	if !ok {
		return 0, fmt.Errorf("%w: no known dial address for peer, call CreateEndpoint first", transport.ErrTransport)
	}

	tc, err := t.dialConn(dialAddr)
	if err != nil {
		return 0, err
	}

	xid := t.allocXID()
	respCh := make(chan frame, 1)
	t.pendingMu.Lock()
	t.pending[xid] = respCh
	t.pendingMu.Unlock()

	req := frame{kind: rmaKind, xid: xid, from: t.self, payload: payload}
	if err := tc.send(req); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, xid)
		t.pendingMu.Unlock()
		return 0, err
	}

	select {
	case resp := <-respCh:
		return copy(recvBuf, resp.payload), nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, xid)
		t.pendingMu.Unlock()
		return 0, ctx.Err()
	}
}

func (t *Transport) allocXID() uint64 {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.nextXID++
	return t.nextXID
}

func (t *Transport) dialAddrFor(peer addr.Address) (string, bool) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	dialAddr, ok := t.peerDialAddrs[peer.String()]
	return dialAddr, ok
}

// Progress dequeues and dispatches exactly one pending AM for worker,
// or returns immediately if the inbox is empty. worker is unused: a
// single shared inbox serves all callers.
func (t *Transport) Progress(ctx context.Context, _ int) error {
	select {
	case im := <-t.inbox:
		return t.dispatch(ctx, im)
	default:
		return nil
	}
}

func (t *Transport) dispatch(ctx context.Context, im inboundMsg) error {
	t.mu.RLock()
	handler, ok := t.handlers[im.f.kind]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler registered for kind %d", transport.ErrTransport, im.f.kind)
	}

	reply := func(ctx context.Context, kind int32, payload []byte) error {
		return im.tc.send(frame{kind: kind, from: t.self, payload: payload})
	}
	return handler(ctx, im.f.from, im.f.payload, reply)
}

// LocalAddr returns this transport's own address.
func (t *Transport) LocalAddr() addr.Address { return t.self }

// ListenAddr returns the "host:port" the listener is bound to, for
// publishing into the persisted server-address config files.
func (t *Transport) ListenAddr() string { return t.listener.Addr().String() }

// Close stops the accept loop and closes every pooled connection.
func (t *Transport) Close() error {
	t.closeOne.Do(func() {
		close(t.closed)
		_ = t.listener.Close()
		t.connMu.Lock()
		for _, tc := range t.conns {
			_ = tc.conn.Close()
		}
		t.connMu.Unlock()
	})
	return nil
}

// Package transport defines the abstract active-message + RMA contract
// the core consumes (§6): a pluggable stand-in for UCX/Mercury transport
// primitives, which this module cannot link.
package transport

import (
	"context"
	"errors"

	"github.com/tangramfs/tangramfs/pkg/addr"
)

// ErrTransport wraps a failure to send an active message or create an
// endpoint. Local-scope: the calling RPC fails and higher layers fall
// back to the PFS where applicable.
var ErrTransport = errors.New("transport error")

// Endpoint identifies a connection to a peer opened with CreateEndpoint.
type Endpoint interface {
	// Addr returns the peer address this endpoint connects to.
	Addr() addr.Address
}

// Responder sends a reply active message of kind back to whoever the
// handler was invoked for. Handlers that expect no response (e.g.
// fire-and-forget notifications) simply never call it.
type Responder func(ctx context.Context, kind int32, payload []byte) error

// AMHandler processes a received active message. It is handed a
// Responder so it can send a reply (of a different kind, e.g.
// QUERY_RESP for a QUERY_REQ) addressed back to the sender, matching
// §4.3's "worker ... sends the reply as a separate active message."
type AMHandler func(ctx context.Context, from addr.Address, payload []byte, reply Responder) error

// Transport is the Go expression of §6's consumed interface:
//
//	send_am(endpoint, id, header, payload, len)
//	set_am_handler(id, fn(arg, buf, len) -> status)
//	create_endpoint(iface, peer_addr) -> endpoint
//	destroy_endpoint(endpoint)
//	rma_request(peer_addr, payload, payload_len, recv_buf, recv_len)
//	progress(worker)
//
// Implementations: pkg/transport/loopback (in-process, tests) and
// pkg/transport/tcp (length-prefixed TCP, standing in for UCX/Mercury).
type Transport interface {
	// CreateEndpoint opens a connection to peer, reachable at iface.
	CreateEndpoint(ctx context.Context, iface []byte, peer addr.Address) (Endpoint, error)

	// DestroyEndpoint releases resources held by ep.
	DestroyEndpoint(ep Endpoint) error

	// SendAM fire-and-forgets an active message of the given kind to ep.
	SendAM(ctx context.Context, ep Endpoint, kind int32, payload []byte) error

	// SetAMHandler registers the receive callback invoked for every
	// incoming active message of the given kind.
	SetAMHandler(kind int32, fn AMHandler)

	// RMARequest performs a blocking bulk fetch: it sends payload to
	// peer and blocks until the peer's RMA handler has filled recvBuf
	// (up to len(recvBuf) bytes), returning the number of bytes
	// actually written.
	RMARequest(ctx context.Context, peer addr.Address, payload []byte, recvBuf []byte) (int, error)

	// SetRMAHandler registers the callback invoked to serve an RMA
	// fetch request received from a peer; it must return the bytes to
	// deliver.
	SetRMAHandler(fn func(ctx context.Context, from addr.Address, payload []byte) ([]byte, error))

	// Progress drives one iteration of completions for worker. Callers
	// loop on Progress until ctx is done.
	Progress(ctx context.Context, worker int) error

	// LocalAddr returns this transport's own address, used to populate
	// outgoing client-address prefixes.
	LocalAddr() addr.Address

	// Close shuts the transport down, releasing all endpoints.
	Close() error
}

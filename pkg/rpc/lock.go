package rpc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/lock"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

func lockTypeToWire(t lock.Type) wire.IntervalType {
	if t == lock.WR {
		return wire.TypeWR
	}
	return wire.TypeRD
}

func wireToLockType(t wire.IntervalType) lock.Type {
	if t == wire.TypeWR {
		return lock.WR
	}
	return lock.RD
}

func tokenToPayload(tok *lock.Token) wire.Payload {
	return wire.Payload{
		Path:      tok.File,
		Intervals: []wire.Interval{{Offset: tok.Offset, Count: tok.Count, Type: lockTypeToWire(tok.Type)}},
	}
}

// LockHandlers returns the Handler set for ACQUIRE_LOCK_REQ,
// RELEASE_LOCK_REQ, RELEASE_LOCK_FILE_REQ and RELEASE_LOCK_CLIENT_REQ,
// grounded on srv. ACQUIRE_LOCK_RESP uses encodeTokenResp since the
// standard rpc_in payload has no field for a token's id.
func LockHandlers(srv *lock.Server) map[wire.MessageKind]Handler {
	return map[wire.MessageKind]Handler{
		wire.AcquireLockReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			if len(req.Intervals) != 1 {
				return 0, nil, fmt.Errorf("rpc: ACQUIRE_LOCK_REQ must carry exactly one interval")
			}
			iv := req.Intervals[0]
			tok, err := srv.AcquireLock(ctx, from, req.Path, iv.Offset, iv.Count, wireToLockType(iv.Type))
			if err != nil {
				return 0, nil, err
			}
			resp, err := encodeTokenResp(tok)
			return wire.AcquireLockResp, resp, err
		},
		wire.ReleaseLockReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			if len(req.Intervals) != 1 {
				return 0, nil, fmt.Errorf("rpc: RELEASE_LOCK_REQ must carry exactly one interval")
			}
			iv := req.Intervals[0]
			if err := srv.ReleaseLock(ctx, from, req.Path, iv.Offset, iv.Count); err != nil {
				return 0, nil, err
			}
			resp, err := EncodePayload(wire.Payload{Path: req.Path})
			return wire.ReleaseLockResp, resp, err
		},
		wire.ReleaseLockFileReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			if err := srv.ReleaseLockFile(ctx, from, req.Path); err != nil {
				return 0, nil, err
			}
			resp, err := EncodePayload(wire.Payload{Path: req.Path})
			return wire.ReleaseLockFileResp, resp, err
		},
		wire.ReleaseLockClientReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			if err := srv.ReleaseLockClient(ctx, from); err != nil {
				return 0, nil, err
			}
			resp, err := EncodePayload(wire.Payload{})
			return wire.ReleaseLockClientResp, resp, err
		},
	}
}

// encodeTokenResp carries a granted token's id alongside the standard
// rpc_in shape: id (opaque) | file (opaque) | offset:u64 | count:u64 |
// type:i32.
func encodeTokenResp(tok *lock.Token) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteOpaque(&buf, []byte(tok.ID)); err != nil {
		return nil, fmt.Errorf("rpc: write token id: %w", err)
	}
	if err := wire.EncodePayload(&buf, tokenToPayload(tok)); err != nil {
		return nil, fmt.Errorf("rpc: write token payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTokenResp(b []byte) (*lock.Token, error) {
	r := bytes.NewReader(b)
	id, err := wire.ReadOpaque(r)
	if err != nil {
		return nil, fmt.Errorf("rpc: read token id: %w", err)
	}
	p, err := wire.DecodePayload(r)
	if err != nil {
		return nil, fmt.Errorf("rpc: read token payload: %w", err)
	}
	if len(p.Intervals) != 1 {
		return nil, fmt.Errorf("rpc: token response must carry exactly one interval")
	}
	iv := p.Intervals[0]
	return &lock.Token{ID: string(id), File: p.Path, Offset: iv.Offset, Count: iv.Count, Type: wireToLockType(iv.Type)}, nil
}

// ServerStub implements lock.ServerClient by forwarding every call to
// the remote lock Server over ep via c.
type ServerStub struct {
	c  *Client
	ep transport.Endpoint
}

var _ lock.ServerClient = (*ServerStub)(nil)

// NewServerStub returns a ServerStub bound to ep. The caller must
// already have called c.RegisterResponseKinds for the four
// ACQUIRE/RELEASE*_RESP kinds.
func NewServerStub(c *Client, ep transport.Endpoint) *ServerStub {
	return &ServerStub{c: c, ep: ep}
}

func (s *ServerStub) AcquireLock(ctx context.Context, requester addr.Address, file string, offset, count uint64, typ lock.Type) (*lock.Token, error) {
	req := wire.Payload{Path: file, Intervals: []wire.Interval{{Offset: offset, Count: count, Type: lockTypeToWire(typ)}}}
	raw, err := s.c.Call(ctx, s.ep, wire.AcquireLockReq, req)
	if err != nil {
		return nil, err
	}
	return decodeTokenResp(raw)
}

func (s *ServerStub) ReleaseLock(ctx context.Context, requester addr.Address, file string, offset, count uint64) error {
	req := wire.Payload{Path: file, Intervals: []wire.Interval{{Offset: offset, Count: count}}}
	_, err := s.c.CallPayload(ctx, s.ep, wire.ReleaseLockReq, wire.ReleaseLockResp, req)
	return err
}

func (s *ServerStub) ReleaseLockFile(ctx context.Context, requester addr.Address, file string) error {
	_, err := s.c.CallPayload(ctx, s.ep, wire.ReleaseLockFileReq, wire.ReleaseLockFileResp, wire.Payload{Path: file})
	return err
}

func (s *ServerStub) ReleaseLockClient(ctx context.Context, requester addr.Address) error {
	_, err := s.c.CallPayload(ctx, s.ep, wire.ReleaseLockClientReq, wire.ReleaseLockClientResp, wire.Payload{})
	return err
}

// RemoteNotifier implements lock.Notifier by pushing a REVOKE_LOCK
// active message to the token's current owner, fire-and-forget: the
// server does not wait for an ack, matching §4.2's "on receiving a
// server-initiated REVOKE, deletes the matching local token."
//
// The owner's dial-back address travels in addr.Address.Interface,
// populated by each client at startup with its own listen address —
// the one piece of "where do I reach you" bookkeeping this transport
// needs, since client registration is out of scope (§1 Non-goals).
type RemoteNotifier struct {
	t transport.Transport
}

var _ lock.Notifier = (*RemoteNotifier)(nil)

// NewRemoteNotifier returns a RemoteNotifier sending over t.
func NewRemoteNotifier(t transport.Transport) *RemoteNotifier {
	return &RemoteNotifier{t: t}
}

func (n *RemoteNotifier) Revoke(ctx context.Context, tok *lock.Token) error {
	ep, err := n.t.CreateEndpoint(ctx, tok.Owner.Interface, tok.Owner)
	if err != nil {
		return fmt.Errorf("rpc: revoke: create endpoint to owner: %w", err)
	}
	payload, err := encodeTokenResp(tok)
	if err != nil {
		return err
	}
	return n.t.SendAM(ctx, ep, int32(wire.RevokeLock), payload)
}

// RegisterRevokeHandler installs the client-side handler that applies
// an incoming REVOKE_LOCK to d.
func RegisterRevokeHandler(t transport.Transport, d *lock.Delegator) {
	t.SetAMHandler(int32(wire.RevokeLock), func(ctx context.Context, _ addr.Address, payload []byte, _ transport.Responder) error {
		tok, err := decodeTokenResp(payload)
		if err != nil {
			return err
		}
		return d.Revoke(ctx, tok)
	})
}

// Package rma implements the RMA data plane (C4): fetching bytes of a
// logical file directly from whichever peer client currently owns
// them, bypassing the metadata service on the data path.
package rma

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/extent"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// ErrFetch wraps a failed peer fetch: either a transport failure or
// the owner reporting a local coverage gap. Callers fall back to the
// PFS (§4.4).
var ErrFetch = errors.New("rma: fetch failed")

func encodeRequest(file string, offset, count uint64) ([]byte, error) {
	var buf bytes.Buffer
	err := wire.EncodePayload(&buf, wire.Payload{
		Path:      file,
		Intervals: []wire.Interval{{Offset: offset, Count: count}},
	})
	return buf.Bytes(), err
}

func decodeRequest(b []byte) (file string, offset, count uint64, err error) {
	p, err := wire.DecodePayload(bytes.NewReader(b))
	if err != nil {
		return "", 0, 0, err
	}
	if len(p.Intervals) != 1 {
		return "", 0, 0, fmt.Errorf("rma: request must carry exactly one interval, got %d", len(p.Intervals))
	}
	return p.Path, p.Intervals[0].Offset, p.Intervals[0].Count, nil
}

// Client issues peer fetches over t.
type Client struct {
	t transport.Transport
}

// NewClient returns a Client sending over t.
func NewClient(t transport.Transport) *Client {
	return &Client{t: t}
}

// Fetch requests count bytes of file starting at offset from owner and
// copies them into dst, which must be exactly count bytes long.
// Matches §4.4's fetch(owner_addr, file, offset, count, dst_buffer).
func (c *Client) Fetch(ctx context.Context, owner addr.Address, file string, offset, count uint64, dst []byte) (int, error) {
	if uint64(len(dst)) != count {
		return 0, fmt.Errorf("rma: dst length %d does not match count %d", len(dst), count)
	}

	if _, err := c.t.CreateEndpoint(ctx, owner.Interface, owner); err != nil {
		return 0, fmt.Errorf("%w: create endpoint to owner: %v", ErrFetch, err)
	}

	req, err := encodeRequest(file, offset, count)
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %v", ErrFetch, err)
	}

	n, err := c.t.RMARequest(ctx, owner, req, dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return n, nil
}

// SessionLookup resolves a logical path to the local index and scratch
// reader serving it, so Server can locate the bytes a peer asked
// for. pkg/session's Manager implements this.
type SessionLookup interface {
	Lookup(file string) (idx *extent.Index, scratch extent.ScratchReader, ok bool)
}

// Server serves incoming RMA fetch requests from peers.
type Server struct {
	t        transport.Transport
	sessions SessionLookup
}

// NewServer returns a Server that resolves fetches against sessions
// and registers itself as t's RMA handler.
func NewServer(t transport.Transport, sessions SessionLookup) *Server {
	s := &Server{t: t, sessions: sessions}
	t.SetRMAHandler(s.serve)
	return s
}

// serve implements serve_rma_data(request) -> (bytes, len): locates
// the file's local session and returns the requested range via the
// Extent Index's local-read path (§4.1).
func (s *Server) serve(ctx context.Context, _ addr.Address, payload []byte) ([]byte, error) {
	file, offset, count, err := decodeRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("rma: decode request: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("rma: zero-length request for %s", file)
	}

	idx, scratch, ok := s.sessions.Lookup(file)
	if !ok {
		return nil, fmt.Errorf("%w: no local session for %s", ErrFetch, file)
	}

	dst := make([]byte, count)
	n, err := idx.ReadLocal(offset, offset+count-1, scratch, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, file, err)
	}
	return dst[:n], nil
}

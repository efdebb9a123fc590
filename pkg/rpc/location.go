package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/location"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// EncodeQueryResp renders owners as num:u32 | [offset:u64 count:u64
// owner]*, using pkg/addr's own marshal for each owner since an
// Address can't be expressed in the plain rpc_in interval shape.
func EncodeQueryResp(owners []location.Owner) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(owners))); err != nil {
		return nil, fmt.Errorf("rpc: write owner count: %w", err)
	}
	for _, o := range owners {
		if err := binary.Write(&buf, binary.BigEndian, o.Offset); err != nil {
			return nil, fmt.Errorf("rpc: write owner offset: %w", err)
		}
		if err := binary.Write(&buf, binary.BigEndian, o.Count); err != nil {
			return nil, fmt.Errorf("rpc: write owner count field: %w", err)
		}
		if err := o.Addr.Marshal(&buf); err != nil {
			return nil, fmt.Errorf("rpc: write owner addr: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeQueryResp reads the encoding written by EncodeQueryResp.
func DecodeQueryResp(b []byte) ([]location.Owner, error) {
	r := bytes.NewReader(b)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("rpc: read owner count: %w", err)
	}
	owners := make([]location.Owner, n)
	for i := range owners {
		var off, count uint64
		if err := binary.Read(r, binary.BigEndian, &off); err != nil {
			return nil, fmt.Errorf("rpc: read owner offset[%d]: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, fmt.Errorf("rpc: read owner count[%d]: %w", i, err)
		}
		a, err := addr.Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("rpc: read owner addr[%d]: %w", i, err)
		}
		owners[i] = location.Owner{Offset: off, Count: count, Addr: a}
	}
	return owners, nil
}

// EncodeStatResp renders size as a one-interval rpc_in payload: a
// single [0, size) entry, reusing the standard shape so STAT_RESP
// needs no bespoke decoder.
func EncodeStatResp(path string, size uint64) ([]byte, error) {
	p := wire.Payload{Path: path}
	if size > 0 {
		p.Intervals = []wire.Interval{{Offset: 0, Count: size}}
	}
	return EncodePayload(p)
}

// LocationHandlers returns the Handler set for POST_REQ, QUERY_REQ and
// STAT_REQ, grounded on loc.
func LocationHandlers(loc *location.Service) map[wire.MessageKind]Handler {
	return map[wire.MessageKind]Handler{
		wire.PostReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			for _, iv := range req.Intervals {
				if err := loc.Post(ctx, from, req.Path, iv.Offset, iv.Count); err != nil {
					return 0, nil, err
				}
			}
			resp, err := EncodePayload(wire.Payload{Path: req.Path})
			return wire.PostResp, resp, err
		},
		wire.QueryReq: func(ctx context.Context, from addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			if len(req.Intervals) != 1 {
				return 0, nil, fmt.Errorf("rpc: QUERY_REQ must carry exactly one interval, got %d", len(req.Intervals))
			}
			iv := req.Intervals[0]
			owners, err := loc.Query(ctx, req.Path, iv.Offset, iv.Count)
			if err != nil {
				return 0, nil, err
			}
			resp, err := EncodeQueryResp(owners)
			return wire.QueryResp, resp, err
		},
		wire.StatReq: func(ctx context.Context, _ addr.Address, req wire.Payload) (wire.MessageKind, []byte, error) {
			size, _ := loc.Stat(ctx, req.Path)
			resp, err := EncodeStatResp(req.Path, size)
			return wire.StatResp, resp, err
		},
	}
}

// LocationStub forwards a session's metadata calls over ep using c,
// the client-side counterpart to LocationHandlers. pkg/session depends
// only on the MetadataClient interface it defines, not on this type.
type LocationStub struct {
	c  *Client
	ep transport.Endpoint

	// queryGroup collapses concurrent Query calls sharing a (file,
	// offset, count) key into one RPC: several local threads racing to
	// read the same cold range would otherwise each send an identical
	// QUERY_REQ.
	queryGroup singleflight.Group
}

// NewLocationStub returns a LocationStub bound to ep. The caller must
// already have called c.RegisterResponseKinds for PostResp, QueryResp
// and StatResp.
func NewLocationStub(c *Client, ep transport.Endpoint) *LocationStub {
	return &LocationStub{c: c, ep: ep}
}

// Post sends a single-interval POST_REQ.
func (s *LocationStub) Post(ctx context.Context, file string, offset, count uint64) error {
	_, err := s.c.CallPayload(ctx, s.ep, wire.PostReq, wire.PostResp, wire.Payload{
		Path:      file,
		Intervals: []wire.Interval{{Offset: offset, Count: count}},
	})
	return err
}

// PostAll sends one POST_REQ enumerating every interval in extents.
func (s *LocationStub) PostAll(ctx context.Context, file string, extents []wire.Interval) error {
	_, err := s.c.CallPayload(ctx, s.ep, wire.PostReq, wire.PostResp, wire.Payload{
		Path:      file,
		Intervals: extents,
	})
	return err
}

// Query sends a single-interval QUERY_REQ and decodes the owner list.
// Concurrent calls for the same (file, offset, count) share one
// in-flight RPC and its decoded result.
func (s *LocationStub) Query(ctx context.Context, file string, offset, count uint64) ([]location.Owner, error) {
	key := fmt.Sprintf("%s:%d:%d", file, offset, count)
	v, err, _ := s.queryGroup.Do(key, func() (any, error) {
		raw, err := s.c.Call(ctx, s.ep, wire.QueryReq, wire.Payload{
			Path:      file,
			Intervals: []wire.Interval{{Offset: offset, Count: count}},
		})
		if err != nil {
			return nil, err
		}
		return DecodeQueryResp(raw)
	})
	if err != nil {
		return nil, err
	}
	return v.([]location.Owner), nil
}

// Stat sends a STAT_REQ and returns the file's current size, and
// whether any byte of it has ever been posted.
func (s *LocationStub) Stat(ctx context.Context, file string) (uint64, bool, error) {
	resp, err := s.c.CallPayload(ctx, s.ep, wire.StatReq, wire.StatResp, wire.Payload{Path: file})
	if err != nil {
		return 0, false, err
	}
	if len(resp.Intervals) == 0 {
		return 0, false, nil
	}
	return resp.Intervals[0].Count, true, nil
}

package rpc

import (
	"context"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// ControlHandlers returns the Handler set for MPI_SIZE and STOP_REQ,
// the two job-coordination messages a rank sends to the metadata
// server rather than to a peer. jobSize reports the rank-ordered
// participant count (len of the nodelist read at job start); shutdown
// is invoked once, from a worker goroutine, on receiving STOP_REQ.
func ControlHandlers(jobSize int, shutdown func()) map[wire.MessageKind]Handler {
	return map[wire.MessageKind]Handler{
		wire.MPISize: func(_ context.Context, _ addr.Address, _ wire.Payload) (wire.MessageKind, []byte, error) {
			resp, err := EncodePayload(wire.Payload{Intervals: []wire.Interval{{Count: uint64(jobSize)}}})
			return wire.MPISize, resp, err
		},
		wire.StopReq: func(_ context.Context, _ addr.Address, _ wire.Payload) (wire.MessageKind, []byte, error) {
			if shutdown != nil {
				shutdown()
			}
			return NoReply, nil, nil
		},
	}
}

// MPISizeStub queries ep for the job's participant count. The caller
// must already have called c.RegisterResponseKinds(wire.MPISize).
func MPISizeStub(ctx context.Context, c *Client, ep transport.Endpoint) (int, error) {
	resp, err := c.CallPayload(ctx, ep, wire.MPISize, wire.MPISize, wire.Payload{})
	if err != nil {
		return 0, err
	}
	if len(resp.Intervals) == 0 {
		return 0, nil
	}
	return int(resp.Intervals[0].Count), nil
}

// StopStub sends a fire-and-forget STOP_REQ to ep.
func StopStub(ctx context.Context, c *Client, ep transport.Endpoint) error {
	return c.Send(ctx, ep, wire.StopReq, wire.Payload{})
}

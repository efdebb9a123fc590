package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tangramfs/tangramfs/pkg/wire"
)

// envelope wraps every rpc_in payload with a request id so a
// sendrecv_server caller can match a response active message to the
// call that triggered it, even with several calls from the same
// client in flight concurrently. The spec's reference implementation
// gets away without this because its sendrecv blocks the one progress
// thread that could have issued a second call; a goroutine-based
// client has no such guarantee, so the id travels on the wire.
type envelope struct {
	id      uint64
	payload []byte
}

func encodeEnvelope(e envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, e.id); err != nil {
		return nil, fmt.Errorf("rpc: write envelope id: %w", err)
	}
	if err := wire.WriteOpaque(&buf, e.payload); err != nil {
		return nil, fmt.Errorf("rpc: write envelope payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	r := bytes.NewReader(b)
	var id uint64
	if err := binary.Read(r, binary.BigEndian, &id); err != nil {
		return envelope{}, fmt.Errorf("rpc: read envelope id: %w", err)
	}
	payload, err := wire.ReadOpaque(r)
	if err != nil {
		return envelope{}, fmt.Errorf("rpc: read envelope payload: %w", err)
	}
	return envelope{id: id, payload: payload}, nil
}

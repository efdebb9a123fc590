package rpc

import (
	"bytes"

	"github.com/tangramfs/tangramfs/pkg/wire"
)

func newByteReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func encodePayloadBytes(p wire.Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.EncodePayload(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

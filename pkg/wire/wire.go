// Package wire implements the length-prefixed binary framing shared by
// the RPC plane, the client-address serialization, and the persisted
// server-address config files. Every encoding in this package is fixed-width,
// big-endian, and free of padding, so message sizes are exactly
// predictable from their field widths.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageKind identifies an RPC message on the wire.
type MessageKind int32

const (
	PostReq MessageKind = iota
	PostResp
	QueryReq
	QueryResp
	StatReq
	StatResp
	AcquireLockReq
	AcquireLockResp
	ReleaseLockReq
	ReleaseLockResp
	ReleaseLockFileReq
	ReleaseLockFileResp
	ReleaseLockClientReq
	ReleaseLockClientResp
	RevokeLock
	RMAReq
	MPISize
	StopReq
)

func (k MessageKind) String() string {
	switch k {
	case PostReq:
		return "POST_REQ"
	case PostResp:
		return "POST_RESP"
	case QueryReq:
		return "QUERY_REQ"
	case QueryResp:
		return "QUERY_RESP"
	case StatReq:
		return "STAT_REQ"
	case StatResp:
		return "STAT_RESP"
	case AcquireLockReq:
		return "ACQUIRE_LOCK_REQ"
	case AcquireLockResp:
		return "ACQUIRE_LOCK_RESP"
	case ReleaseLockReq:
		return "RELEASE_LOCK_REQ"
	case ReleaseLockResp:
		return "RELEASE_LOCK_RESP"
	case ReleaseLockFileReq:
		return "RELEASE_LOCK_FILE_REQ"
	case ReleaseLockFileResp:
		return "RELEASE_LOCK_FILE_RESP"
	case ReleaseLockClientReq:
		return "RELEASE_LOCK_CLIENT_REQ"
	case ReleaseLockClientResp:
		return "RELEASE_LOCK_CLIENT_RESP"
	case RevokeLock:
		return "REVOKE_LOCK"
	case RMAReq:
		return "RMA_REQ"
	case MPISize:
		return "MPI_SIZE"
	case StopReq:
		return "STOP_REQ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(k))
	}
}

// IntervalType distinguishes an RD token request from a WR one on the
// wire; it shares the i32 slot used by a lock token's Type.
type IntervalType int32

const (
	TypeRD IntervalType = iota
	TypeWR
)

// Interval is one [offset, offset+count) range carried by an rpc_in
// payload, tagged with a type for lock request messages (ignored by
// post/query messages, which always send TypeRD).
type Interval struct {
	Offset uint64
	Count  uint64
	Type   IntervalType
}

// Payload is the decoded form of an rpc_in frame: a logical path plus
// the interval list the message carries.
type Payload struct {
	Path      string
	Intervals []Interval
}

// MaxPathLen bounds path_len (a uint16) to prevent a corrupt or
// adversarial frame from driving an enormous allocation.
const MaxPathLen = 1<<16 - 1

// MaxIntervals bounds num_intervals (a uint32) the same way.
const MaxIntervals = 1 << 20

// EncodePayload writes path_len:u16 | path_bytes | num_intervals:u32 |
// [offset:u64 count:u64 type:i32]* to w.
func EncodePayload(w io.Writer, p Payload) error {
	if len(p.Path) > MaxPathLen {
		return fmt.Errorf("wire: path too long: %d bytes", len(p.Path))
	}
	if len(p.Intervals) > MaxIntervals {
		return fmt.Errorf("wire: too many intervals: %d", len(p.Intervals))
	}

	if err := binary.Write(w, binary.BigEndian, uint16(len(p.Path))); err != nil {
		return fmt.Errorf("wire: write path_len: %w", err)
	}
	if _, err := w.Write([]byte(p.Path)); err != nil {
		return fmt.Errorf("wire: write path: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Intervals))); err != nil {
		return fmt.Errorf("wire: write num_intervals: %w", err)
	}
	for _, iv := range p.Intervals {
		if err := binary.Write(w, binary.BigEndian, iv.Offset); err != nil {
			return fmt.Errorf("wire: write offset: %w", err)
		}
		if err := binary.Write(w, binary.BigEndian, iv.Count); err != nil {
			return fmt.Errorf("wire: write count: %w", err)
		}
		if err := binary.Write(w, binary.BigEndian, int32(iv.Type)); err != nil {
			return fmt.Errorf("wire: write type: %w", err)
		}
	}
	return nil
}

// DecodePayload reads a payload frame written by EncodePayload.
func DecodePayload(r io.Reader) (Payload, error) {
	var pathLen uint16
	if err := binary.Read(r, binary.BigEndian, &pathLen); err != nil {
		return Payload{}, fmt.Errorf("wire: read path_len: %w", err)
	}

	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return Payload{}, fmt.Errorf("wire: read path: %w", err)
	}

	var numIntervals uint32
	if err := binary.Read(r, binary.BigEndian, &numIntervals); err != nil {
		return Payload{}, fmt.Errorf("wire: read num_intervals: %w", err)
	}
	if numIntervals > MaxIntervals {
		return Payload{}, fmt.Errorf("wire: num_intervals %d exceeds limit", numIntervals)
	}

	intervals := make([]Interval, numIntervals)
	for i := range intervals {
		var off, count uint64
		var typ int32
		if err := binary.Read(r, binary.BigEndian, &off); err != nil {
			return Payload{}, fmt.Errorf("wire: read offset[%d]: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return Payload{}, fmt.Errorf("wire: read count[%d]: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
			return Payload{}, fmt.Errorf("wire: read type[%d]: %w", i, err)
		}
		intervals[i] = Interval{Offset: off, Count: count, Type: IntervalType(typ)}
	}

	return Payload{Path: string(pathBytes), Intervals: intervals}, nil
}

// WriteOpaque writes len:u64 | bytes, the length-prefixed opaque
// encoding shared by client addresses and persisted config files.
func WriteOpaque(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(b))); err != nil {
		return fmt.Errorf("wire: write opaque length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("wire: write opaque bytes: %w", err)
	}
	return nil
}

// MaxOpaqueLen bounds an opaque blob's length prefix to prevent a
// corrupt frame from driving an enormous allocation.
const MaxOpaqueLen = 1 << 30

// ReadOpaque reads a len:u64 | bytes frame written by WriteOpaque.
func ReadOpaque(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("wire: read opaque length: %w", err)
	}
	if n > MaxOpaqueLen {
		return nil, fmt.Errorf("wire: opaque length %d exceeds limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("wire: read opaque bytes: %w", err)
	}
	return b, nil
}

// WriteClientAddrPrefix prepends a message with the sender's client
// address, framed as client_addr_len:u64 | client_addr_bytes, per the
// transport glue's inlined addressing convention.
func WriteClientAddrPrefix(w io.Writer, clientAddr []byte) error {
	return WriteOpaque(w, clientAddr)
}

// ReadClientAddrPrefix reads the client-address prefix written by
// WriteClientAddrPrefix.
func ReadClientAddrPrefix(r io.Reader) ([]byte, error) {
	return ReadOpaque(r)
}

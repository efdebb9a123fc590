package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the I/O plane.
// Use these keys consistently so log aggregation and querying line up
// across the extent index, lock manager, RPC plane, RMA path and session
// manager.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// RPC / dispatch
	KeyMessageKind = "message_kind" // POST_REQ, QUERY_REQ, ACQUIRE_LOCK_REQ, ...
	KeyXID         = "xid"          // RPC correlation id
	KeyWorker      = "worker"       // worker pool slot index
	KeyStatus      = "status"       // operation result status
	KeyDurationMs  = "duration_ms"

	// File / extent identity
	KeyFile   = "file"   // logical path
	KeyOffset = "offset"
	KeyCount  = "count"
	KeyExtentStart = "extent_start"
	KeyExtentEnd   = "extent_end"

	// Client identity
	KeyClient = "client" // string form of pkg/addr.Address
	KeyRank   = "rank"
	KeyOwner  = "owner"

	// Lock manager
	KeyLockType = "lock_type" // RD, WR
	KeyTokenID  = "token_id"

	// Session
	KeySemantics = "semantics" // STRONG, COMMIT, RELAXED
	KeyBytes     = "bytes"

	// Errors
	KeyError = "error"
)

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// MessageKind returns a slog.Attr for an RPC message kind.
func MessageKind(kind fmt.Stringer) slog.Attr {
	return slog.String(KeyMessageKind, kind.String())
}

// XID returns a slog.Attr for an RPC correlation id, formatted as hex.
func XID(xid uint64) slog.Attr {
	return slog.String(KeyXID, fmt.Sprintf("0x%x", xid))
}

// Worker returns a slog.Attr for a worker pool slot index.
func Worker(n int) slog.Attr { return slog.Int(KeyWorker, n) }

// File returns a slog.Attr for a logical file path.
func File(path string) slog.Attr { return slog.String(KeyFile, path) }

// Offset returns a slog.Attr for a byte offset.
func Offset(off uint64) slog.Attr { return slog.Uint64(KeyOffset, off) }

// Count returns a slog.Attr for a byte count.
func Count(n uint64) slog.Attr { return slog.Uint64(KeyCount, n) }

// Client returns a slog.Attr for a client address's string form.
func Client(addr string) slog.Attr { return slog.String(KeyClient, addr) }

// Rank returns a slog.Attr for an MPI-style rank.
func Rank(rank int) slog.Attr { return slog.Int(KeyRank, rank) }

// LockType returns a slog.Attr for a lock type name (RD/WR).
func LockType(t fmt.Stringer) slog.Attr { return slog.String(KeyLockType, t.String()) }

// TokenID returns a slog.Attr for a lock token's id.
func TokenID(id string) slog.Attr { return slog.String(KeyTokenID, id) }

// Owner returns a slog.Attr for a lock owner's client address.
func Owner(addr string) slog.Attr { return slog.String(KeyOwner, addr) }

// Semantics returns a slog.Attr for a session's consistency mode.
func Semantics(mode string) slog.Attr { return slog.String(KeySemantics, mode) }

// Bytes returns a slog.Attr for a byte count moved by an operation.
func Bytes(n uint64) slog.Attr { return slog.Uint64(KeyBytes, n) }

// DurationAttr returns a slog.Attr for an elapsed-time field in milliseconds.
func DurationAttr(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error value, or a zero-value (empty-key)
// attr if err is nil so it is safely omitted by slog.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

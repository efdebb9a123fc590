package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for I/O plane operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientAddr = "client.address" // string form of pkg/addr.Address
	AttrRank       = "client.rank"    // MPI-style rank, -1 if unknown

	// ========================================================================
	// RPC plane attributes (C3)
	// ========================================================================
	AttrMessageKind = "rpc.message_kind" // POST_REQ, QUERY_REQ, ACQUIRE_LOCK_REQ, ...
	AttrXID         = "rpc.xid"          // RPC correlation id
	AttrWorker      = "rpc.worker"       // worker pool slot index
	AttrStatus      = "rpc.status"       // operation result status

	// ========================================================================
	// File / extent attributes (C1)
	// ========================================================================
	AttrFile        = "fs.file" // logical path
	AttrOffset      = "fs.offset"
	AttrCount       = "fs.count"
	AttrExtentStart = "fs.extent_start"
	AttrExtentEnd   = "fs.extent_end"
	AttrBytes       = "fs.bytes"

	// ========================================================================
	// Lock manager attributes (C2)
	// ========================================================================
	AttrLockType = "lock.type" // RD, WR
	AttrTokenID  = "lock.token_id"
	AttrOwner    = "lock.owner"

	// ========================================================================
	// RMA data plane attributes (C4)
	// ========================================================================
	AttrRMASourceAddr = "rma.source_address"
	AttrRMABytes      = "rma.bytes"

	// ========================================================================
	// Session / consistency attributes (C5)
	// ========================================================================
	AttrSemantics = "session.semantics" // STRONG, COMMIT, RELAXED

	// ========================================================================
	// Persistent store attributes
	// ========================================================================
	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// ========================================================================
	// RPC plane spans
	// ========================================================================
	SpanRPCRequest = "rpc.request"

	SpanRPCQuery        = "rpc.QUERY"
	SpanRPCPost         = "rpc.POST"
	SpanRPCAcquireLock  = "rpc.ACQUIRE_LOCK"
	SpanRPCReleaseLock  = "rpc.RELEASE_LOCK"
	SpanRPCUpgradeLock  = "rpc.UPGRADE_LOCK"
	SpanRPCRevokeLock   = "rpc.REVOKE_LOCK"
	SpanRPCOpenSession  = "rpc.OPEN_SESSION"
	SpanRPCCloseSession = "rpc.CLOSE_SESSION"
	SpanRPCCommit       = "rpc.COMMIT"

	// ========================================================================
	// RMA data plane spans
	// ========================================================================
	SpanRMAFetch = "rma.fetch"
	SpanRMAServe = "rma.serve"

	// ========================================================================
	// Extent index spans
	// ========================================================================
	SpanExtentAdd  = "extent.add"
	SpanExtentFind = "extent.find"

	// ========================================================================
	// Lock manager spans
	// ========================================================================
	SpanLockAcquire = "lock.acquire"
	SpanLockRelease = "lock.release"
	SpanLockUpgrade = "lock.upgrade"
	SpanLockRevoke  = "lock.revoke"

	// ========================================================================
	// Session manager spans
	// ========================================================================
	SpanSessionWrite  = "session.write"
	SpanSessionRead   = "session.read"
	SpanSessionPost   = "session.post"
	SpanSessionCommit = "session.commit"
	SpanSessionFlush  = "session.flush"

	// ========================================================================
	// Persistent store spans
	// ========================================================================
	SpanStoreRead  = "store.read"
	SpanStoreWrite = "store.write"
	SpanStoreStat  = "store.stat"
)

// ClientAddr returns an attribute for a client's string-form address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Rank returns an attribute for an MPI-style rank.
func Rank(rank int) attribute.KeyValue {
	return attribute.Int(AttrRank, rank)
}

// MessageKind returns an attribute for an RPC message kind.
func MessageKind(kind string) attribute.KeyValue {
	return attribute.String(AttrMessageKind, kind)
}

// XID returns an attribute for an RPC correlation id.
func XID(xid uint64) attribute.KeyValue {
	return attribute.String(AttrXID, fmt.Sprintf("0x%x", xid))
}

// File returns an attribute for a logical file path.
func File(path string) attribute.KeyValue {
	return attribute.String(AttrFile, path)
}

// Offset returns an attribute for a byte offset.
func Offset(offset uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(offset))
}

// Count returns an attribute for a byte count.
func Count(count uint64) attribute.KeyValue {
	return attribute.Int64(AttrCount, int64(count))
}

// ExtentRange returns attributes for the logical bounds of an extent.
func ExtentRange(start, end uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrExtentStart, int64(start)),
		attribute.Int64(AttrExtentEnd, int64(end)),
	}
}

// Bytes returns an attribute for a byte count moved by an operation.
func Bytes(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, int64(n))
}

// LockType returns an attribute for a lock type name (RD/WR).
func LockType(t string) attribute.KeyValue {
	return attribute.String(AttrLockType, t)
}

// TokenID returns an attribute for a lock token id.
func TokenID(id string) attribute.KeyValue {
	return attribute.String(AttrTokenID, id)
}

// Owner returns an attribute for a lock owner's client address.
func Owner(addr string) attribute.KeyValue {
	return attribute.String(AttrOwner, addr)
}

// Semantics returns an attribute for a session's consistency mode.
func Semantics(mode string) attribute.KeyValue {
	return attribute.String(AttrSemantics, mode)
}

// StoreName returns an attribute for a persistent store name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for a persistent store backend type.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an S3 object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartRPCSpan starts a span for an RPC message handled on the server or
// delegator side. This is a convenience function that sets common
// attributes shared by every message kind.
func StartRPCSpan(ctx context.Context, kind string, xid uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		MessageKind(kind),
		XID(xid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "rpc."+kind, trace.WithAttributes(allAttrs...))
}

// StartSessionSpan starts a span for a session-manager operation.
func StartSessionSpan(ctx context.Context, operation, file string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		File(file),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "session."+operation, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a persistent store operation.
func StartStoreSpan(ctx context.Context, operation, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		StorageKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "store."+operation, trace.WithAttributes(allAttrs...))
}

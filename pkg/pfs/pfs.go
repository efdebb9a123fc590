// Package pfs defines the durable backing store (the "PFS" of §4.4/§4.5):
// wherever a file's bytes end up once no node holds them locally anymore,
// and where a read falls back to on an RMA gap. Implementations live in
// subpackages: pkg/pfs/local for a disk-backed default, pkg/pfs/s3 for
// an object-store-backed one.
package pfs

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Stat when path has never been written.
// pkg/pfs/s3's PRead returns it too; pkg/pfs/local's PRead instead
// creates the empty file and reports io.EOF.
var ErrNotFound = errors.New("pfs: not found")

// Store is the durable, positional-I/O backing store a session flushes
// extents to (§4.5's pwrite(path, offset, data)) and falls back to on
// a read miss (§4.4's PFS fallback).
type Store interface {
	// PRead reads len(p) bytes of path starting at offset, returning
	// the number of bytes read. Matches io.ReaderAt semantics: a short
	// read past EOF returns io.EOF alongside n < len(p).
	PRead(ctx context.Context, path string, offset int64, p []byte) (int, error)

	// PWrite writes p to path at offset, extending the file (zero-filling
	// any gap) if offset+len(p) exceeds the current size.
	PWrite(ctx context.Context, path string, offset int64, p []byte) (int, error)

	// Stat reports the current size of path, or ErrNotFound.
	Stat(ctx context.Context, path string) (size int64, err error)

	// Flush durably persists any writes to path that the store may be
	// holding only in memory or in a client-side buffer. Implementations
	// backed by a store that is already durable per-PWrite (S3's PUT)
	// may treat this as a no-op.
	Flush(ctx context.Context, path string) error

	// Close releases any resources held by the store.
	Close() error
}

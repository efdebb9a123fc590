package lock

import "errors"

// ErrLockConflict is returned when a requested token cannot be granted
// because it would overlap a token held by another owner, and the
// conflict cannot be resolved by a single-owner revocation (the
// multi-conflicting-owner case is rejected rather than silently
// sequenced — see DESIGN.md).
var ErrLockConflict = errors.New("lock: conflicting token held by another owner")

// ErrNotFound reports that no token matches a request. Server and
// Delegator releases are idempotent: a release that matches no token
// returns nil, not this error.
var ErrNotFound = errors.New("lock: no matching token")

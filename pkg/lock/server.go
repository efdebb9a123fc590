package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
)

// Notifier delivers a server-initiated revocation to whichever
// delegator is caching the token on the affected owner's behalf. In a
// single-process test this can be satisfied directly by a Delegator;
// pkg/rpc implements it by sending a REVOKE_LOCK active message, which
// is what cmd/tangramfsd uses in both server modes.
type Notifier interface {
	Revoke(ctx context.Context, tok *Token) error
}

// noopNotifier is used when a Server is constructed without a
// Notifier (e.g. in unit tests that only exercise grant/release).
type noopNotifier struct{}

func (noopNotifier) Revoke(context.Context, *Token) error { return nil }

// Server is the sole authority over one job's lock tokens, keyed by
// file. All mutating operations are serialized by mu, matching the
// spec's "lock table accessed under an implicit server-wide lock"
// resource model.
type Server struct {
	mu       sync.Mutex
	tokens   map[string][]*Token
	notifier Notifier
	metrics  *Metrics
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithNotifier installs the Notifier used to push REVOKE to the
// current owner of a token being displaced.
func WithNotifier(n Notifier) ServerOption {
	return func(s *Server) { s.notifier = n }
}

// WithMetrics installs a Prometheus metrics recorder.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer returns an empty Server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		tokens:   make(map[string][]*Token),
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireLock implements the server-tier acquire algorithm of §4.2.
func (s *Server) AcquireLock(ctx context.Context, requester addr.Address, file string, offset, count uint64, typ Type) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.tokens[file]

	// 1. requester already owns a covering token.
	for _, t := range existing {
		if !t.Owner.Equal(requester) || !t.Covers(offset, count) {
			continue
		}
		if t.Type == typ {
			return t, nil
		}
		// RD held, WR requested: flip in place, but only if doing so
		// would not conflict with another owner's overlapping token.
		if t.Type == RD && typ == WR {
			conflicting := otherOwnerOverlaps(existing, requester, offset, count)
			if len(conflicting) > 0 {
				if err := s.resolveConflict(ctx, conflicting); err != nil {
					s.recordAcquire(file, typ, false)
					return nil, err
				}
				s.tokens[file] = removeTokens(s.tokens[file], conflicting)
			}
			t.Type = WR
			s.recordAcquire(file, typ, true)
			return t, nil
		}
	}

	// 2. scan for conflicting tokens from other owners.
	overlapping := otherOwnerOverlaps(existing, requester, offset, count)

	if len(overlapping) == 0 {
		tok := newToken(file, offset, count, typ, requester)
		s.tokens[file] = append(existing, tok)
		s.recordAcquire(file, typ, true)
		logger.DebugCtx(ctx, "lock granted", logger.File(file), logger.LockType(typ), logger.TokenID(tok.ID))
		return tok, nil
	}

	allRD := typ == RD && allType(overlapping, RD)
	if allRD {
		// 3. both sides RD: grant a parallel RD token.
		tok := newToken(file, offset, count, typ, requester)
		s.tokens[file] = append(s.tokens[file], tok)
		s.recordAcquire(file, typ, true)
		return tok, nil
	}

	// 4. at least one side is WR: resolve via revocation.
	if err := s.resolveConflict(ctx, overlapping); err != nil {
		s.recordAcquire(file, typ, false)
		return nil, err
	}
	s.tokens[file] = removeTokens(s.tokens[file], overlapping)

	tok := newToken(file, offset, count, typ, requester)
	s.tokens[file] = append(s.tokens[file], tok)
	s.recordAcquire(file, typ, true)
	logger.DebugCtx(ctx, "lock granted after revocation", logger.File(file), logger.LockType(typ), logger.TokenID(tok.ID))
	return tok, nil
}

// resolveConflict revokes every token in conflicting, provided they
// all belong to a single owner. Per the open question on
// multi-conflicting-owner requests (e.g. P1:[0,10], P2:[10,20],
// request [0,20]), this implementation rejects rather than silently
// sequences revocations across distinct owners.
func (s *Server) resolveConflict(ctx context.Context, conflicting []*Token) error {
	owner := conflicting[0].Owner
	for _, t := range conflicting[1:] {
		if !t.Owner.Equal(owner) {
			return fmt.Errorf("%w: overlapping tokens held by multiple owners", ErrLockConflict)
		}
	}
	for _, t := range conflicting {
		if err := s.notifier.Revoke(ctx, t); err != nil {
			return fmt.Errorf("lock: revoke %s: %w", t.ID, err)
		}
		s.recordRevoke(t.File)
	}
	return nil
}

// ReleaseLock deletes any token owned by requester that covers
// [offset, offset+count). Idempotent.
func (s *Server) ReleaseLock(ctx context.Context, requester addr.Address, file string, offset, count uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tokens[file][:0:0]
	for _, t := range s.tokens[file] {
		if t.Owner.Equal(requester) && t.Covers(offset, count) {
			s.recordRelease(file)
			continue
		}
		kept = append(kept, t)
	}
	s.tokens[file] = kept
	return nil
}

// ReleaseLockFile deletes all tokens in file owned by requester.
func (s *Server) ReleaseLockFile(ctx context.Context, requester addr.Address, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tokens[file][:0:0]
	for _, t := range s.tokens[file] {
		if t.Owner.Equal(requester) {
			s.recordRelease(file)
			continue
		}
		kept = append(kept, t)
	}
	s.tokens[file] = kept
	return nil
}

// ReleaseLockClient deletes all tokens owned by requester across every
// file. Invoked on client crash or finalize.
func (s *Server) ReleaseLockClient(ctx context.Context, requester addr.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for file, toks := range s.tokens {
		kept := toks[:0:0]
		for _, t := range toks {
			if t.Owner.Equal(requester) {
				s.recordRelease(file)
				continue
			}
			kept = append(kept, t)
		}
		s.tokens[file] = kept
	}
	return nil
}

// ListTokens returns a snapshot of every token currently held on file.
func (s *Server) ListTokens(file string) []*Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Token, len(s.tokens[file]))
	copy(out, s.tokens[file])
	return out
}

func otherOwnerOverlaps(tokens []*Token, requester addr.Address, offset, count uint64) []*Token {
	var out []*Token
	for _, t := range tokens {
		if t.Owner.Equal(requester) {
			continue
		}
		if t.Overlaps(offset, count) {
			out = append(out, t)
		}
	}
	return out
}

func allType(tokens []*Token, typ Type) bool {
	for _, t := range tokens {
		if t.Type != typ {
			return false
		}
	}
	return true
}

func removeTokens(tokens []*Token, remove []*Token) []*Token {
	toRemove := make(map[string]struct{}, len(remove))
	for _, t := range remove {
		toRemove[t.ID] = struct{}{}
	}
	kept := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := toRemove[t.ID]; ok {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func (s *Server) recordAcquire(file string, typ Type, granted bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveAcquire(typ, granted)
}

func (s *Server) recordRelease(file string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRelease()
}

func (s *Server) recordRevoke(file string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRevoke()
}

// Package rpc implements the RPC plane (C3): message kinds and wire
// framing over pkg/wire, a fixed server-side worker pool dispatching
// active messages round-robin, and a delegator-side sendrecv_server
// client that blocks the caller until the matching response arrives.
package rpc

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tangramfs/tangramfs/internal/logger"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/transport"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

// DefaultWorkers is the default server worker pool size (§4.3: "a
// fixed pool of N workers (default 8)").
const DefaultWorkers = 8

// noReplyKind is a sentinel a Handler returns to suppress sending any
// response active message (e.g. a fire-and-forget notification).
const noReplyKind wire.MessageKind = -1

// NoReply is the Handler-facing name for noReplyKind.
const NoReply = noReplyKind

// Handler processes one decoded request payload for a registered
// message kind and returns the response kind and raw response bytes to
// send back. Most handlers build their response with EncodePayload;
// QUERY_RESP uses the owner-carrying encoding in location.go since a
// file's ownership can't be expressed in a plain rpc_in payload.
// A Handler that returns NoReply sends no response active message
// (useful for fire-and-forget notifications like STOP_REQ).
type Handler func(ctx context.Context, from addr.Address, req wire.Payload) (respKind wire.MessageKind, resp []byte, err error)

// EncodePayload renders p using the standard rpc_in wire encoding, for
// handlers whose response fits the path+intervals shape.
func EncodePayload(p wire.Payload) ([]byte, error) { return encodePayloadBytes(p) }

type job struct {
	kind    wire.MessageKind
	from    addr.Address
	env     envelope
	respond transport.Responder
}

// Server is the C3 server tier: a fixed worker pool reading from a
// shared transport's AM handlers and invoking registered Handlers.
// The transport's Progress loop is the sole dispatch driver (§4.3);
// workers only execute handler bodies and send replies.
type Server struct {
	t          transport.Transport
	handlers   map[wire.MessageKind]Handler
	numWorkers int
	queues     []chan job
	next       uint64
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithWorkers overrides DefaultWorkers.
func WithWorkers(n int) ServerOption {
	return func(s *Server) { s.numWorkers = n }
}

// NewServer returns a Server bound to t. Call Register for every
// message kind it should serve, then Serve to start dispatching.
func NewServer(t transport.Transport, opts ...ServerOption) *Server {
	s := &Server{
		t:          t,
		handlers:   make(map[wire.MessageKind]Handler),
		numWorkers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queues = make([]chan job, s.numWorkers)
	for i := range s.queues {
		s.queues[i] = make(chan job, 64)
	}
	return s
}

// Register installs fn as the handler for incoming messages of kind.
// It must be called before Serve.
func (s *Server) Register(kind wire.MessageKind, fn Handler) {
	s.handlers[kind] = fn
	s.t.SetAMHandler(int32(kind), s.amHandlerFor(kind))
}

// amHandlerFor adapts the registered Handler into a transport.AMHandler
// that decodes the envelope, places the job on a worker queue chosen
// round-robin, and lets the worker send the reply.
func (s *Server) amHandlerFor(kind wire.MessageKind) transport.AMHandler {
	return func(ctx context.Context, from addr.Address, payload []byte, reply transport.Responder) error {
		env, err := decodeEnvelope(payload)
		if err != nil {
			return fmt.Errorf("rpc: decode envelope for %s: %w", kind, err)
		}
		idx := atomic.AddUint64(&s.next, 1) % uint64(s.numWorkers)
		j := job{kind: kind, from: from, env: env, respond: reply}
		select {
		case s.queues[idx] <- j:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Serve runs numWorkers worker goroutines plus the transport's
// progress loop until ctx is cancelled, using errgroup to propagate
// the first fatal error and tear the rest down (DOMAIN STACK:
// errgroup replaces the teacher's manually-joined worker threads).
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < s.numWorkers; i++ {
		worker := i
		g.Go(func() error { return s.runWorker(ctx, worker) })
	}

	g.Go(func() error { return s.runProgress(ctx) })

	return g.Wait()
}

func (s *Server) runWorker(ctx context.Context, worker int) error {
	q := s.queues[worker]
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-q:
			s.handle(ctx, worker, j)
		}
	}
}

func (s *Server) handle(ctx context.Context, worker int, j job) {
	handler, ok := s.handlers[j.kind]
	if !ok {
		logger.WarnCtx(ctx, "rpc: no handler for message kind", logger.MessageKind(j.kind))
		return
	}

	req, err := wire.DecodePayload(newByteReader(j.env.payload))
	if err != nil {
		logger.WarnCtx(ctx, "rpc: decode request payload", logger.MessageKind(j.kind), logger.Err(err))
		return
	}

	respKind, resp, err := handler(ctx, j.from, req)
	if err != nil {
		logger.DebugCtx(ctx, "rpc: handler error", logger.MessageKind(j.kind), logger.Worker(worker), logger.Err(err))
		return
	}
	if respKind == noReplyKind {
		return
	}

	if err := s.sendReply(ctx, j, respKind, resp); err != nil {
		logger.WarnCtx(ctx, "rpc: send reply", logger.MessageKind(respKind), logger.Err(err))
	}
}

func (s *Server) sendReply(ctx context.Context, j job, respKind wire.MessageKind, resp []byte) error {
	respEnv, err := encodeEnvelope(envelope{id: j.env.id, payload: resp})
	if err != nil {
		return err
	}
	return j.respond(ctx, int32(respKind), respEnv)
}

func (s *Server) runProgress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := s.t.Progress(ctx, 0); err != nil && ctx.Err() == nil {
				return fmt.Errorf("rpc: transport progress: %w", err)
			}
		}
	}
}

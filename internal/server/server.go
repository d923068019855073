// Package server implements the RPC front door: it reads newline-delimited
// request envelopes from a byte stream, dispatches each parsed request to a
// handler on a bounded worker pool, and emits exactly one response line per
// request.
//
// Parsing is sequential; handlers are not. The front door does not wait
// for one handler before dispatching the next line, so handlers for the
// same session may be in flight together and responses are emitted in
// completion order. Callers correlate purely by the echoed request id.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/roach88/driverbench/internal/errbridge"
	"github.com/roach88/driverbench/internal/protocol"
	"github.com/roach88/driverbench/internal/session"
)

// DefaultPoolSize bounds concurrently running handlers. Submission blocks
// when the pool is saturated, which is the back-pressure on the reader.
const DefaultPoolSize = 32

// maxLineBytes caps one request line. Schema texts and migration scripts
// arrive inline, so the cap is generous.
const maxLineBytes = 16 * 1024 * 1024

// Server is the front door. It owns no session state itself; everything
// lives in the registry threaded through the handlers.
type Server struct {
	registry *session.Registry
	bridge   *errbridge.Registry
	log      *slog.Logger
	poolSize int

	wmu sync.Mutex
	out io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithPoolSize bounds the handler pool.
func WithPoolSize(n int) Option {
	return func(s *Server) { s.poolSize = n }
}

// New creates a front door over the given registry and error-bridge
// registry.
func New(registry *session.Registry, bridge *errbridge.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		bridge:   bridge,
		log:      slog.Default(),
		poolSize: DefaultPoolSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads request lines from r until EOF, writing response lines to w.
// It returns after every in-flight handler has responded.
//
// A line that fails to parse as an envelope is logged and dropped, never
// fatal: the input channel may carry incidental diagnostic output.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.wmu.Lock()
	s.out = w
	s.wmu.Unlock()

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return fmt.Errorf("creating handler pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		// The scanner reuses its buffer across lines.
		line := make([]byte, len(raw))
		copy(line, raw)

		req, err := protocol.ParseLine(line)
		if err != nil {
			s.log.Warn("dropping unparseable line", "error", err, "bytes", len(line))
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.respond(ctx, req)
		}
		if err := pool.Submit(task); err != nil {
			// Pool already released; run inline so the response is
			// still emitted.
			task()
		}
	}

	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// respond runs the handler for req and writes its single response line.
func (s *Server) respond(ctx context.Context, req protocol.Request) {
	result, err := s.handle(ctx, req)
	id := req.EnvelopeID()

	var line []byte
	if err != nil {
		line = protocol.MarshalError(id, s.describeError(err))
	} else {
		line, err = protocol.MarshalSuccess(id, result)
		if err != nil {
			line = protocol.MarshalError(id, err.Error())
		}
	}
	s.writeLine(line)
}

// describeError resolves a handler failure to its envelope message. When
// the failure is a bridged driver error (a transaction start or finish
// that died inside the capability), its registry entry is consumed here:
// the original failure goes to the broker log and its message replaces
// the opaque id in the envelope, so nothing is left stranded in the
// registry.
func (s *Server) describeError(err error) string {
	var bridged *errbridge.BridgedError
	if !errors.As(err, &bridged) {
		return err.Error()
	}
	original, ok := s.bridge.Consume(bridged.ID)
	if !ok {
		s.log.Error("external driver error id missing from registry", "id", bridged.ID)
		return err.Error()
	}
	s.log.Error("external driver error", "id", bridged.ID, "error", original)
	return strings.Replace(err.Error(), bridged.Error(), original.Error(), 1)
}

// handle dispatches a request variant to its handler. The switch is
// exhaustive over the closed request union.
func (s *Server) handle(ctx context.Context, req protocol.Request) (any, error) {
	switch r := req.(type) {
	case *protocol.InitializeSchema:
		return s.registry.InitializeSchema(ctx, r.SchemaID, r.URL, r.Schema, r.MigrationScript)
	case *protocol.Query:
		return s.handleQuery(ctx, r)
	case *protocol.StartTx:
		sess, err := s.registry.Get(r.SchemaID)
		if err != nil {
			return nil, err
		}
		return sess.Engine.StartTransaction(ctx, r.Options)
	case *protocol.CommitTx:
		sess, err := s.registry.Get(r.SchemaID)
		if err != nil {
			return nil, err
		}
		return sess.Engine.CommitTransaction(ctx, r.TxID)
	case *protocol.RollbackTx:
		sess, err := s.registry.Get(r.SchemaID)
		if err != nil {
			return nil, err
		}
		return sess.Engine.RollbackTransaction(ctx, r.TxID)
	case *protocol.Teardown:
		if err := s.registry.Teardown(ctx, r.SchemaID); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	case *protocol.GetLogs:
		return s.registry.GetLogs(r.SchemaID)
	case *protocol.Unknown:
		return nil, fmt.Errorf("unknown method %q", r.Method)
	case *protocol.Invalid:
		return nil, fmt.Errorf("invalid params for %q: %v", r.Method, r.Err)
	default:
		return nil, fmt.Errorf("unhandled request type %T", req)
	}
}

// handleQuery forwards the query to the session's engine and returns the
// engine's payload unparsed. If the payload reports external-driver
// errors, their opaque ids are consumed from the bridge registry so the
// original failures reach the broker log. The recovered detail never
// reaches the RPC response.
func (s *Server) handleQuery(ctx context.Context, r *protocol.Query) (any, error) {
	sess, err := s.registry.Get(r.SchemaID)
	if err != nil {
		return nil, err
	}
	txID := ""
	if r.TxID != nil {
		txID = *r.TxID
	}
	raw, err := sess.Engine.Query(ctx, r.Query, txID)
	if err != nil {
		return nil, err
	}
	s.recoverDriverErrors(raw)
	return raw, nil
}

// enginePayload is the minimal slice of an engine response needed to spot
// external-driver errors.
type enginePayload struct {
	Errors []struct {
		UserFacingError struct {
			ErrorCode string `json:"error_code"`
			Meta      struct {
				ID string `json:"id"`
			} `json:"meta"`
		} `json:"user_facing_error"`
	} `json:"errors"`
}

// externalDriverErrorCode is the user-facing code the engine reports when
// a wrapped driver failure crossed the boundary as an opaque id.
const externalDriverErrorCode = "P2036"

func (s *Server) recoverDriverErrors(raw json.RawMessage) {
	var payload enginePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	for _, e := range payload.Errors {
		if e.UserFacingError.ErrorCode != externalDriverErrorCode {
			continue
		}
		id := e.UserFacingError.Meta.ID
		original, ok := s.bridge.Consume(id)
		if !ok {
			// The id crossed the boundary but the original error is
			// gone: broker-level inconsistency, never swallowed.
			s.log.Error("external driver error id missing from registry", "id", id)
			continue
		}
		s.log.Error("external driver error", "id", id, "error", original)
	}
}

func (s *Server) writeLine(line []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.out.Write(append(line, '\n')); err != nil {
		s.log.Error("writing response line", "error", err)
	}
}

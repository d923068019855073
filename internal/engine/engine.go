// Package engine binds the externally-hosted computation engine's stable
// call interface - connect, query, startTransaction, commitTransaction,
// rollbackTransaction, disconnect - to a driver capability.
//
// The broker treats the engine as an opaque collaborator: it hands it a
// capability and a schema at connect time and forwards call results
// unparsed. Query planning lives on the engine's side of that line; this
// package executes the engine's statement protocol directly against the
// capability.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/errbridge"
)

// Logger receives the engine's diagnostic lines. The session's append-only
// log buffer implements it.
type Logger interface {
	Append(line string)
}

// QueryEngine is the stable call interface the broker drives.
type QueryEngine interface {
	Connect(ctx context.Context) error
	Query(ctx context.Context, body json.RawMessage, txID string) (json.RawMessage, error)
	StartTransaction(ctx context.Context, options json.RawMessage) (json.RawMessage, error)
	CommitTransaction(ctx context.Context, txID string) (json.RawMessage, error)
	RollbackTransaction(ctx context.Context, txID string) (json.RawMessage, error)
	Disconnect(ctx context.Context) error
}

// Engine executes the statement protocol against one session's capability.
type Engine struct {
	capability driver.Queryable
	schema     string
	logs       Logger
	txs        *txController

	// connected is read by concurrent handlers and flipped by
	// Connect/Disconnect; unsequenced operations racing a disconnect fail
	// cleanly instead of racing on the flag.
	connected atomic.Bool
}

// New binds an engine to a capability and schema text. Call Connect before
// issuing queries.
func New(capability driver.Queryable, schema string, logs Logger) *Engine {
	return &Engine{
		capability: capability,
		schema:     schema,
		logs:       logs,
		txs:        newTxController(),
	}
}

// Connect readies the engine. No backend round-trip happens here: replay
// sessions must be able to connect without recorded connectivity probes.
func (e *Engine) Connect(ctx context.Context) error {
	if !e.connected.CompareAndSwap(false, true) {
		return errors.New("engine: already connected")
	}
	e.logs.Append("engine connected")
	return nil
}

// Disconnect rolls back any transaction still open and drops the engine's
// state. Statements issued afterwards fail.
func (e *Engine) Disconnect(ctx context.Context) error {
	if !e.connected.CompareAndSwap(true, false) {
		return errors.New("engine: not connected")
	}
	for _, tx := range e.txs.drain() {
		if tx.State() == TxStarted {
			_ = tx.Rollback(ctx)
		}
	}
	e.logs.Append("engine disconnected")
	return nil
}

// queryBody is the engine's statement protocol.
type queryBody struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
	// Kind forces "query" or "execute"; when empty the engine infers it
	// from the statement's leading keyword.
	Kind string `json:"kind,omitempty"`
}

// Query runs one statement, optionally inside the transaction txID.
//
// Backend failures do not surface as Go errors: they are shaped into the
// engine's response payload, with the external-driver error code carrying
// only the opaque registry id across the boundary. The broker returns the
// payload unparsed to preserve numeric fidelity.
func (e *Engine) Query(ctx context.Context, body json.RawMessage, txID string) (json.RawMessage, error) {
	if !e.connected.Load() {
		return nil, errors.New("engine: not connected")
	}

	var q queryBody
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("engine: parsing query body: %w", err)
	}
	if q.SQL == "" {
		return nil, errors.New("engine: query body missing sql")
	}

	var target statementTarget = e.capability
	if txID != "" {
		tx, ok := e.txs.get(txID)
		if !ok {
			return nil, fmt.Errorf("engine: transaction %s not found", txID)
		}
		target = tx
	}

	e.logs.Append("db.statement: " + q.SQL)

	if isReadStatement(q.SQL, q.Kind) {
		rs, err := target.QueryRaw(ctx, q.SQL, q.Params)
		if err != nil {
			return errorResponse(err), nil
		}
		return dataResponse(rs)
	}
	n, err := target.ExecuteRaw(ctx, q.SQL, q.Params)
	if err != nil {
		return errorResponse(err), nil
	}
	return dataResponse(map[string]int64{"rowsAffected": n})
}

// statementTarget is the slice of the capability both plain connections and
// live transactions satisfy.
type statementTarget interface {
	QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error)
	ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error)
}

// isReadStatement decides query vs execute from an explicit kind or the
// statement's leading keyword.
func isReadStatement(sql, kind string) bool {
	switch kind {
	case "query":
		return true
	case "execute":
		return false
	}
	head := strings.ToUpper(strings.TrimLeft(sql, " \t\r\n"))
	for _, kw := range []string{"SELECT", "PRAGMA", "WITH", "EXPLAIN", "SHOW"} {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}

// StartTransaction begins a backend transaction and mints its id. The
// engine is the only layer that mints transaction ids.
func (e *Engine) StartTransaction(ctx context.Context, options json.RawMessage) (json.RawMessage, error) {
	if !e.connected.Load() {
		return nil, errors.New("engine: not connected")
	}
	tx, err := e.txs.begin(ctx, e.capability, options)
	if err != nil {
		return nil, fmt.Errorf("engine: starting transaction: %w", err)
	}
	e.logs.Append("transaction started: " + tx.ID())
	return json.Marshal(map[string]string{"id": tx.ID()})
}

// CommitTransaction commits the transaction the engine knows as txID. A
// second commit is rejected by the backend, not masked here.
func (e *Engine) CommitTransaction(ctx context.Context, txID string) (json.RawMessage, error) {
	if !e.connected.Load() {
		return nil, errors.New("engine: not connected")
	}
	tx, ok := e.txs.get(txID)
	if !ok {
		return nil, fmt.Errorf("engine: transaction %s not found", txID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("engine: committing transaction %s: %w", txID, err)
	}
	e.logs.Append("transaction committed: " + txID)
	return json.RawMessage(`{}`), nil
}

// RollbackTransaction rolls back the transaction the engine knows as txID.
func (e *Engine) RollbackTransaction(ctx context.Context, txID string) (json.RawMessage, error) {
	if !e.connected.Load() {
		return nil, errors.New("engine: not connected")
	}
	tx, ok := e.txs.get(txID)
	if !ok {
		return nil, fmt.Errorf("engine: transaction %s not found", txID)
	}
	if err := tx.Rollback(ctx); err != nil {
		return nil, fmt.Errorf("engine: rolling back transaction %s: %w", txID, err)
	}
	e.logs.Append("transaction rolled back: " + txID)
	return json.RawMessage(`{}`), nil
}

// Engine-level failures ride inside a successful payload; only the
// external-driver code carries a registry id.
const (
	// codeExternalDriverError marks a failure that originated in the
	// wrapped driver and crossed the boundary as an opaque id.
	codeExternalDriverError = "P2036"
	// codeRawQueryFailed marks any other statement failure.
	codeRawQueryFailed = "P2010"
)

type engineError struct {
	Error           string          `json:"error"`
	UserFacingError userFacingError `json:"user_facing_error"`
}

type userFacingError struct {
	IsPanic   bool           `json:"is_panic"`
	Message   string         `json:"message"`
	ErrorCode string         `json:"error_code"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func dataResponse(data any) (json.RawMessage, error) {
	b, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, fmt.Errorf("engine: marshaling response: %w", err)
	}
	return b, nil
}

func errorResponse(err error) json.RawMessage {
	ee := engineError{
		Error: err.Error(),
		UserFacingError: userFacingError{
			Message:   err.Error(),
			ErrorCode: codeRawQueryFailed,
		},
	}
	var bridged *errbridge.BridgedError
	if errors.As(err, &bridged) {
		ee.UserFacingError.ErrorCode = codeExternalDriverError
		ee.UserFacingError.Meta = map[string]any{"id": bridged.ID}
	}
	b, mErr := json.Marshal(map[string]any{"errors": []engineError{ee}})
	if mErr != nil {
		// engineError contains only strings and a small map.
		panic(mErr)
	}
	return b
}

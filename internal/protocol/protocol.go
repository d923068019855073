// Package protocol defines the line-delimited RPC envelopes exchanged with
// the test client, and the closed set of request variants the broker accepts.
//
// Each input line is one request envelope:
//
//	{"id": 12, "method": "query", "params": {...}}
//
// Each output line is one response envelope carrying the same id:
//
//	{"jsonrpc":"2.0","id":12,"result":{...}}
//	{"jsonrpc":"2.0","id":12,"error":{"code":1,"message":"..."}}
//
// Code 1 is the only error code this layer mints. Richer error codes travel
// inside a successful query result's own payload, never in the envelope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the raw request frame before method-specific decoding.
// Immutable once parsed.
type Envelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Request is the closed union of decoded request variants.
//
// Adding a method means adding a variant here, a case in ParseLine, and a
// case in the server's dispatch switch - the compiler flags anything missed.
type Request interface {
	// EnvelopeID returns the caller-chosen request id echoed in the response.
	EnvelopeID() int64

	isRequest()
}

// InitializeSchema creates a session: it connects an adapter for the given
// url, optionally runs the privileged reset+migrate path, and boots the
// engine against the schema text.
type InitializeSchema struct {
	ID              int64
	URL             string
	Schema          string
	SchemaID        int
	MigrationScript *string
}

// Query forwards a query body to the session's engine, optionally inside
// the transaction identified by TxID.
type Query struct {
	ID       int64
	SchemaID int
	Query    json.RawMessage
	TxID     *string
}

// StartTx begins a transaction on the session's engine.
type StartTx struct {
	ID       int64
	SchemaID int
	Options  json.RawMessage
}

// CommitTx commits the transaction the engine knows as TxID.
type CommitTx struct {
	ID       int64
	SchemaID int
	TxID     string
}

// RollbackTx rolls back the transaction the engine knows as TxID.
type RollbackTx struct {
	ID       int64
	SchemaID int
	TxID     string
}

// Teardown disconnects the session's engine and releases adapter resources.
type Teardown struct {
	ID       int64
	SchemaID int
}

// GetLogs returns the session's append-only log buffer.
type GetLogs struct {
	ID       int64
	SchemaID int
}

// Unknown is produced for a well-formed envelope naming a method the broker
// does not implement. The server answers it with a generic code-1 error.
type Unknown struct {
	ID     int64
	Method string
}

// Invalid is produced for a well-formed envelope whose params failed to
// decode for a known method. The id is available, so the server answers
// with a code-1 error instead of dropping the line.
type Invalid struct {
	ID     int64
	Method string
	Err    error
}

func (r *InitializeSchema) EnvelopeID() int64 { return r.ID }
func (r *Query) EnvelopeID() int64            { return r.ID }
func (r *StartTx) EnvelopeID() int64          { return r.ID }
func (r *CommitTx) EnvelopeID() int64         { return r.ID }
func (r *RollbackTx) EnvelopeID() int64       { return r.ID }
func (r *Teardown) EnvelopeID() int64         { return r.ID }
func (r *GetLogs) EnvelopeID() int64          { return r.ID }
func (r *Unknown) EnvelopeID() int64          { return r.ID }
func (r *Invalid) EnvelopeID() int64          { return r.ID }

func (*InitializeSchema) isRequest() {}
func (*Query) isRequest()            {}
func (*StartTx) isRequest()          {}
func (*CommitTx) isRequest()         {}
func (*RollbackTx) isRequest()       {}
func (*Teardown) isRequest()         {}
func (*GetLogs) isRequest()          {}
func (*Unknown) isRequest()          {}
func (*Invalid) isRequest()          {}

// Wire-level param shapes. Kept unexported: handlers work with the decoded
// variants above, never with raw param structs.
type initializeSchemaParams struct {
	URL             string  `json:"url"`
	Schema          string  `json:"schema"`
	SchemaID        int     `json:"schemaId"`
	MigrationScript *string `json:"migrationScript,omitempty"`
}

type queryParams struct {
	SchemaID int             `json:"schemaId"`
	Query    json.RawMessage `json:"query"`
	TxID     *string         `json:"txId,omitempty"`
}

type startTxParams struct {
	SchemaID int             `json:"schemaId"`
	Options  json.RawMessage `json:"options"`
}

type txParams struct {
	SchemaID int    `json:"schemaId"`
	TxID     string `json:"txId"`
}

type schemaParams struct {
	SchemaID int `json:"schemaId"`
}

// ParseLine parses one input line into a request variant.
//
// A line that is not a valid envelope returns an error; the caller logs and
// drops it (the channel may carry incidental diagnostic output). A valid
// envelope always yields a Request, possibly Unknown or Invalid, so exactly
// one response can be emitted for it.
func ParseLine(line []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	if env.Method == "" {
		return nil, fmt.Errorf("envelope missing method")
	}

	switch env.Method {
	case "initializeSchema":
		var p initializeSchemaParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &InitializeSchema{
			ID:              env.ID,
			URL:             p.URL,
			Schema:          p.Schema,
			SchemaID:        p.SchemaID,
			MigrationScript: p.MigrationScript,
		}, nil
	case "query":
		var p queryParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &Query{ID: env.ID, SchemaID: p.SchemaID, Query: p.Query, TxID: p.TxID}, nil
	case "startTx":
		var p startTxParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &StartTx{ID: env.ID, SchemaID: p.SchemaID, Options: p.Options}, nil
	case "commitTx":
		var p txParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &CommitTx{ID: env.ID, SchemaID: p.SchemaID, TxID: p.TxID}, nil
	case "rollbackTx":
		var p txParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &RollbackTx{ID: env.ID, SchemaID: p.SchemaID, TxID: p.TxID}, nil
	case "teardown":
		var p schemaParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &Teardown{ID: env.ID, SchemaID: p.SchemaID}, nil
	case "getLogs":
		var p schemaParams
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return &Invalid{ID: env.ID, Method: env.Method, Err: err}, nil
		}
		return &GetLogs{ID: env.ID, SchemaID: p.SchemaID}, nil
	default:
		return &Unknown{ID: env.ID, Method: env.Method}, nil
	}
}

// successEnvelope is the wire shape of a success response.
type successEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// errorEnvelope is the wire shape of an error response.
type errorEnvelope struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      int64        `json:"id"`
	Error   errorPayload `json:"error"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MarshalSuccess encodes a success response line for the given id.
//
// result may be a json.RawMessage to pass an engine payload through
// unparsed, preserving its numeric fidelity.
func MarshalSuccess(id int64, result any) ([]byte, error) {
	raw, ok := result.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		raw = b
	}
	return json.Marshal(successEnvelope{JSONRPC: "2.0", ID: id, Result: raw})
}

// MarshalError encodes a code-1 error response line for the given id.
func MarshalError(id int64, message string) []byte {
	b, err := json.Marshal(errorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errorPayload{Code: 1, Message: message},
	})
	if err != nil {
		// A string and two ints cannot fail to marshal.
		panic(err)
	}
	return b
}

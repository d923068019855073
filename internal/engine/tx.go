package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/driverbench/internal/driver"
)

// TxState is a transaction's lifecycle state.
type TxState int32

const (
	// TxStarted is the initial state.
	TxStarted TxState = iota + 1
	// TxCommitted is terminal.
	TxCommitted
	// TxRolledBack is terminal.
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxStarted:
		return "STARTED"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Transaction models one in-flight transaction: the live backend
// transaction, the options it was started with, and its state. State moves
// STARTED -> COMMITTED or STARTED -> ROLLED_BACK, both terminal. The state
// only advances on a successful backend call; a commit after commit is the
// backend's error to raise, not this layer's to mask.
type Transaction struct {
	id      string
	tx      driver.Transaction
	options json.RawMessage
	state   atomic.Int32
}

// ID returns the engine-minted transaction id.
func (t *Transaction) ID() string { return t.id }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() TxState { return TxState(t.state.Load()) }

// QueryRaw runs a reading statement on the transaction's connection.
func (t *Transaction) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	return t.tx.QueryRaw(ctx, sql, args)
}

// ExecuteRaw runs a writing statement on the transaction's connection.
func (t *Transaction) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	return t.tx.ExecuteRaw(ctx, sql, args)
}

// Commit forwards to the backend and, on success, moves to COMMITTED.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return err
	}
	t.state.Store(int32(TxCommitted))
	return nil
}

// Rollback forwards to the backend and, on success, moves to ROLLED_BACK.
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return err
	}
	t.state.Store(int32(TxRolledBack))
	return nil
}

// txController owns the engine's live transactions, addressed by the ids
// the engine mints.
type txController struct {
	mu  sync.Mutex
	txs map[string]*Transaction
}

func newTxController() *txController {
	return &txController{txs: make(map[string]*Transaction)}
}

// begin starts a backend transaction and registers it under a fresh id.
func (c *txController) begin(ctx context.Context, capability driver.Queryable, options json.RawMessage) (*Transaction, error) {
	inner, err := capability.StartTransaction(ctx)
	if err != nil {
		return nil, err
	}
	t := &Transaction{
		id:      uuid.NewString(),
		tx:      inner,
		options: options,
	}
	t.state.Store(int32(TxStarted))

	c.mu.Lock()
	c.txs[t.id] = t
	c.mu.Unlock()
	return t, nil
}

func (c *txController) get(id string) (*Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txs[id]
	return t, ok
}

// drain removes and returns every registered transaction.
func (c *txController) drain() []*Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Transaction, 0, len(c.txs))
	for _, t := range c.txs {
		out = append(out, t)
	}
	c.txs = make(map[string]*Transaction)
	return out
}

// Package errbridge lets a rich driver error survive the crossing into the
// embedded engine, which can only carry a small tagged value back out.
//
// Every driver capability is wrapped exactly once. When a wrapped call
// fails, the wrapper mints a fresh opaque id, parks the original error in a
// process-wide registry under that id, and hands the engine a lightweight
// error carrying only the id. When the engine's own response later reports
// the matching external-driver error code, the broker consumes the id to
// recover the original error for its own diagnostic log.
package errbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/driverbench/internal/driver"
)

// Registry is the process-wide store of captured driver errors. Entries
// are created on first capture and removed on first consumption; nothing
// here is durable, and entries have no relation back to any session.
type Registry struct {
	mu   sync.Mutex
	errs map[string]error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{errs: make(map[string]error)}
}

// Capture stores err under a freshly minted opaque id and returns the id.
func (r *Registry) Capture(err error) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.errs[id] = err
	r.mu.Unlock()
	return id
}

// Consume removes and returns the error stored under id. The second return
// reports whether the id was present: a miss means information was lost
// across the boundary and must be surfaced by the caller, never swallowed.
func (r *Registry) Consume(id string) (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err, ok := r.errs[id]
	if ok {
		delete(r.errs, id)
	}
	return err, ok
}

// Len reports the number of captured, not-yet-consumed errors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// BridgedError is the tagged value that crosses the boundary in place of
// the original driver error.
type BridgedError struct {
	// ID is the opaque registry handle for the original error.
	ID string
}

func (e *BridgedError) Error() string {
	return fmt.Sprintf("external driver error (id=%s)", e.ID)
}

// Wrap decorates a capability so every failure is captured in reg and
// replaced by a BridgedError.
func Wrap(q driver.Queryable, reg *Registry) driver.Queryable {
	return &queryable{inner: q, reg: reg}
}

type queryable struct {
	inner driver.Queryable
	reg   *Registry
}

func (q *queryable) Provider() driver.Provider { return q.inner.Provider() }

func (q *queryable) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rs, err := q.inner.QueryRaw(ctx, sql, args)
	if err != nil {
		return nil, &BridgedError{ID: q.reg.Capture(err)}
	}
	return rs, nil
}

func (q *queryable) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	n, err := q.inner.ExecuteRaw(ctx, sql, args)
	if err != nil {
		return 0, &BridgedError{ID: q.reg.Capture(err)}
	}
	return n, nil
}

func (q *queryable) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	tx, err := q.inner.StartTransaction(ctx)
	if err != nil {
		return nil, &BridgedError{ID: q.reg.Capture(err)}
	}
	return &transaction{inner: tx, reg: q.reg}, nil
}

func (q *queryable) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	info, err := q.inner.ConnectionInfo(ctx)
	if err != nil {
		return nil, &BridgedError{ID: q.reg.Capture(err)}
	}
	return info, nil
}

type transaction struct {
	inner driver.Transaction
	reg   *Registry
}

func (t *transaction) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rs, err := t.inner.QueryRaw(ctx, sql, args)
	if err != nil {
		return nil, &BridgedError{ID: t.reg.Capture(err)}
	}
	return rs, nil
}

func (t *transaction) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	n, err := t.inner.ExecuteRaw(ctx, sql, args)
	if err != nil {
		return 0, &BridgedError{ID: t.reg.Capture(err)}
	}
	return n, nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if err := t.inner.Commit(ctx); err != nil {
		return &BridgedError{ID: t.reg.Capture(err)}
	}
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if err := t.inner.Rollback(ctx); err != nil {
		return &BridgedError{ID: t.reg.Capture(err)}
	}
	return nil
}

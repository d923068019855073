// Package testutil provides in-memory driver fakes shared across package
// tests.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/driverbench/internal/driver"
)

// Call records one statement issued against a fake.
type Call struct {
	SQL  string
	Args []any
}

// FakeQueryable is an in-memory driver capability with canned results.
//
// Results are keyed by statement text. Statements with no canned entry
// succeed with an empty result set (or zero affected rows), so tests only
// configure what they assert on. Errs entries take precedence and make the
// statement fail.
type FakeQueryable struct {
	mu sync.Mutex

	ProviderTag driver.Provider
	Results     map[string]*driver.ResultSet
	ExecResults map[string]int64
	Errs        map[string]error
	Info        *driver.ConnectionInfo

	// TxErr makes StartTransaction fail.
	TxErr error

	Calls []Call
}

// NewFakeQueryable creates an empty fake tagged as sqlite.
func NewFakeQueryable() *FakeQueryable {
	return &FakeQueryable{
		ProviderTag: driver.ProviderSQLite,
		Results:     make(map[string]*driver.ResultSet),
		ExecResults: make(map[string]int64),
		Errs:        make(map[string]error),
	}
}

// CallCount returns the number of statements issued so far.
func (f *FakeQueryable) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *FakeQueryable) record(sql string, args []any) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{SQL: sql, Args: args})
	f.mu.Unlock()
}

func (f *FakeQueryable) Provider() driver.Provider { return f.ProviderTag }

func (f *FakeQueryable) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	f.record(sql, args)
	if err, ok := f.Errs[sql]; ok {
		return nil, err
	}
	if rs, ok := f.Results[sql]; ok {
		return rs, nil
	}
	return &driver.ResultSet{ColumnNames: []string{}, ColumnTypes: []driver.ColumnType{}, Rows: [][]any{}}, nil
}

func (f *FakeQueryable) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	f.record(sql, args)
	if err, ok := f.Errs[sql]; ok {
		return 0, err
	}
	return f.ExecResults[sql], nil
}

func (f *FakeQueryable) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	if f.TxErr != nil {
		return nil, f.TxErr
	}
	return &fakeTransaction{parent: f}, nil
}

func (f *FakeQueryable) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	if f.Info != nil {
		return f.Info, nil
	}
	return &driver.ConnectionInfo{}, nil
}

// fakeTransaction runs statements against the parent fake and tracks
// whether it was finished.
type fakeTransaction struct {
	parent   *FakeQueryable
	mu       sync.Mutex
	finished bool
}

func (t *fakeTransaction) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	return t.parent.QueryRaw(ctx, sql, args)
}

func (t *fakeTransaction) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	return t.parent.ExecuteRaw(ctx, sql, args)
}

func (t *fakeTransaction) Commit(ctx context.Context) error {
	return t.finish()
}

func (t *fakeTransaction) Rollback(ctx context.Context) error {
	return t.finish()
}

func (t *fakeTransaction) finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return ErrTxFinished
	}
	t.finished = true
	return nil
}

// ErrTxFinished is what the fake backend raises for a second commit or
// rollback, standing in for the real driver's rejection.
var ErrTxFinished = errContract("transaction already finished")

type errContract string

func (e errContract) Error() string { return string(e) }

// Package recording implements the record/replay harness: a pair of
// capability wrappers that capture a fixed workload against a live backend
// and later replay it deterministically with no backend at all.
//
// Keys are derived from the statement template text only; bind values are
// excluded. A workload therefore carries one result per statement shape.
// Broken fixtures fail hard - a duplicate recording, a missing replay key
// or a transaction start during replay is never papered over, because a
// degraded fixture would silently turn a benchmark into a lie.
package recording

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/driverbench/internal/driver"
)

// Key identifies one recorded statement shape.
type Key string

// KeyFor derives the recording key for a statement. Bind values are
// intentionally not part of the key.
func KeyFor(sql string) Key {
	return Key(sql)
}

// Store holds the recorded workload: one result per query key and one
// affected-row count per execute key.
type Store struct {
	mu       sync.Mutex
	provider driver.Provider
	queries  map[Key]*driver.ResultSet
	execs    map[Key]int64
}

// NewStore creates an empty recording store for the given provider.
func NewStore(provider driver.Provider) *Store {
	return &Store{
		provider: provider,
		queries:  make(map[Key]*driver.ResultSet),
		execs:    make(map[Key]int64),
	}
}

// Provider reports the backend family the workload was recorded against.
func (s *Store) Provider() driver.Provider { return s.provider }

// Len reports the total number of recorded entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries) + len(s.execs)
}

// putQuery stores a query result, failing before overwrite on duplicates.
func (s *Store) putQuery(key Key, rs *driver.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queries[key]; exists {
		return fmt.Errorf("recording: duplicate query key %q", key)
	}
	s.queries[key] = rs
	return nil
}

// putExec stores an execute result, failing before overwrite on duplicates.
func (s *Store) putExec(key Key, rows int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[key]; exists {
		return fmt.Errorf("recording: duplicate execute key %q", key)
	}
	s.execs[key] = rows
	return nil
}

func (s *Store) getQuery(key Key) (*driver.ResultSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.queries[key]
	return rs, ok
}

func (s *Store) getExec(key Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.execs[key]
	return n, ok
}

// NewRecorder wraps a real capability: every call is forwarded and its
// result stored in s under the statement's key.
func NewRecorder(inner driver.Queryable, s *Store) driver.Queryable {
	return &recorder{inner: inner, store: s}
}

type recorder struct {
	inner driver.Queryable
	store *Store
}

func (r *recorder) Provider() driver.Provider { return r.inner.Provider() }

func (r *recorder) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rs, err := r.inner.QueryRaw(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if err := r.store.putQuery(KeyFor(sql), rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *recorder) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	n, err := r.inner.ExecuteRaw(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	if err := r.store.putExec(KeyFor(sql), n); err != nil {
		return 0, err
	}
	return n, nil
}

// StartTransaction fails: the harness is defined only for statement-level
// capture outside transactional framing.
func (r *recorder) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	return nil, fmt.Errorf("recording: transactions are not supported while recording")
}

func (r *recorder) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	return r.inner.ConnectionInfo(ctx)
}

// NewReplayer wraps a recorded workload: every call resolves from s without
// touching any backend.
func NewReplayer(s *Store) driver.Queryable {
	return &replayer{store: s}
}

type replayer struct {
	store *Store
}

func (r *replayer) Provider() driver.Provider { return r.store.provider }

func (r *replayer) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rs, ok := r.store.getQuery(KeyFor(sql))
	if !ok {
		return nil, fmt.Errorf("recording: no recorded result for query %q", sql)
	}
	return rs, nil
}

func (r *replayer) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	n, ok := r.store.getExec(KeyFor(sql))
	if !ok {
		return 0, fmt.Errorf("recording: no recorded result for execute %q", sql)
	}
	return n, nil
}

// StartTransaction fails: replay has no backend to run a transaction on.
func (r *replayer) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	return nil, fmt.Errorf("recording: transactions are not supported during replay")
}

// ConnectionInfo reports no limits; nothing was recorded about them.
func (r *replayer) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	return &driver.ConnectionInfo{}, nil
}

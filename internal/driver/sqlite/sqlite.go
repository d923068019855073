// Package sqlite implements the driver capability over an in-process
// embedded SQLite store, plus the privileged reset+migrate path used for
// test setup.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/driverbench/internal/driver"
)

// maxBindValues is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
const maxBindValues = 999

// Manager owns one embedded database handle for one session.
type Manager struct {
	db   *sql.DB
	path string
}

// NewManager opens (or creates) the database behind a file: or sqlite: URL.
//
// SQLite supports one writer at a time, so the pool is pinned to a single
// connection - the same constraint the rest of the adapter relies on for
// batched resets.
func NewManager(url string) (*Manager, error) {
	path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite:"), "//")
	if strings.HasPrefix(path, "file:") || strings.HasPrefix(url, "file:") {
		path = strings.TrimPrefix(url, "sqlite:")
	} else {
		path = "file:" + path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_fk=1")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Manager{db: db, path: path}, nil
}

// Provider implements driver.Manager.
func (m *Manager) Provider() driver.Provider { return driver.ProviderSQLite }

// Connect implements driver.Manager.
func (m *Manager) Connect(ctx context.Context) (driver.Queryable, error) {
	if err := m.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &queryable{db: m.db}, nil
}

// Release closes the embedded database handle. Not safe to call twice.
func (m *Manager) Release(ctx context.Context) error {
	return m.db.Close()
}

type queryable struct {
	db *sql.DB
}

func (q *queryable) Provider() driver.Provider { return driver.ProviderSQLite }

func (q *queryable) QueryRaw(ctx context.Context, query string, args []any) (*driver.ResultSet, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func (q *queryable) ExecuteRaw(ctx context.Context, query string, args []any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *queryable) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &transaction{tx: tx}, nil
}

func (q *queryable) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	limit := maxBindValues
	return &driver.ConnectionInfo{MaxBindValues: &limit, SchemaName: "main"}, nil
}

type transaction struct {
	tx *sql.Tx
}

func (t *transaction) QueryRaw(ctx context.Context, query string, args []any) (*driver.ResultSet, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func (t *transaction) ExecuteRaw(ctx context.Context, query string, args []any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *transaction) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *transaction) Rollback(ctx context.Context) error { return t.tx.Rollback() }

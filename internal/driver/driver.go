// Package driver defines the uniform capability surface the broker presents
// over heterogeneous database backends.
//
// Every backend - an in-process embedded store, a socket-based relational
// server, or an HTTP-proxied edge binding - is reached through the same
// Queryable interface. Selection of the concrete implementation is a pure
// function of the provider tag parsed from the connection URL; there is no
// fallback between providers.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider tags the backend family a connection URL selects.
type Provider string

const (
	// ProviderSQLite is the in-process embedded store.
	ProviderSQLite Provider = "sqlite"
	// ProviderPostgres is a socket-based relational server.
	ProviderPostgres Provider = "postgres"
	// ProviderD1 is an HTTP-proxied edge SQL binding.
	ProviderD1 Provider = "d1"
)

// ColumnType is the closed set of column type tags a result set may carry.
// The engine relies on these tags to re-serialize values without losing
// numeric fidelity.
type ColumnType string

const (
	ColumnTypeInt32    ColumnType = "int"
	ColumnTypeInt64    ColumnType = "bigint"
	ColumnTypeFloat    ColumnType = "float"
	ColumnTypeDouble   ColumnType = "double"
	ColumnTypeText     ColumnType = "string"
	ColumnTypeBytes    ColumnType = "bytes"
	ColumnTypeBool     ColumnType = "bool"
	ColumnTypeDateTime ColumnType = "datetime"
	ColumnTypeJSON     ColumnType = "json"
	ColumnTypeNumeric  ColumnType = "decimal"
	ColumnTypeUnknown  ColumnType = "unknown"
)

// ResultSet is the tagged result of a successful QueryRaw.
type ResultSet struct {
	ColumnNames []string     `json:"columnNames"`
	ColumnTypes []ColumnType `json:"columnTypes"`
	Rows        [][]any      `json:"rows"`
}

// ConnectionInfo reports optional adapter limits and defaults.
type ConnectionInfo struct {
	// MaxBindValues is the backend's bound-parameter limit per statement,
	// or nil when the adapter does not report one. Callers use it to size
	// batched statements.
	MaxBindValues *int `json:"maxBindValues"`

	// SchemaName is the default schema queries run against, if the
	// backend has that notion.
	SchemaName string `json:"schemaName,omitempty"`
}

// Queryable is the driver capability: the uniform surface the engine calls
// through regardless of backend. Implementations never retry.
type Queryable interface {
	// Provider reports the backend family tag.
	Provider() Provider

	// QueryRaw runs a reading statement and returns its result set.
	QueryRaw(ctx context.Context, sql string, args []any) (*ResultSet, error)

	// ExecuteRaw runs a writing statement and returns the affected row
	// count.
	ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error)

	// StartTransaction begins a backend transaction whose statements run
	// on a dedicated connection.
	StartTransaction(ctx context.Context) (Transaction, error)

	// ConnectionInfo reports adapter limits, or nil when the backend has
	// none to report.
	ConnectionInfo(ctx context.Context) (*ConnectionInfo, error)
}

// Transaction is a live backend transaction. Statement methods are bound to
// the transaction's connection. Commit and Rollback are terminal; calling
// either twice is rejected by the backend itself, not masked here.
type Transaction interface {
	QueryRaw(ctx context.Context, sql string, args []any) (*ResultSet, error)
	ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Manager owns a backend's pooled resources for one session: it hands out
// the session's Queryable and releases everything on teardown.
type Manager interface {
	Provider() Provider

	// Connect acquires the session's capability. Called once per session.
	Connect(ctx context.Context) (Queryable, error)

	// Release frees pooled connections and embedded file handles. Not
	// safe to call twice.
	Release(ctx context.Context) error
}

// SchemaResetter is the privileged, non-capability reset path some backend
// families expose for test setup. It is invoked only from session
// initialization, never from the capability surface.
type SchemaResetter interface {
	// ResetSchema drops all user objects and, if migrationScript is
	// non-empty, applies it as one atomic batch.
	ResetSchema(ctx context.Context, migrationScript string) error
}

// ErrTransactionsUnsupported is returned by adapters whose backend has no
// interactive transaction support.
var ErrTransactionsUnsupported = errors.New("driver: backend does not support interactive transactions")

// ParseProvider maps a connection URL to its provider tag. Pure mapping, no
// fallback: an unrecognized scheme is an error.
func ParseProvider(url string) (Provider, error) {
	switch {
	case strings.HasPrefix(url, "file:"), strings.HasPrefix(url, "sqlite:"):
		return ProviderSQLite, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return ProviderPostgres, nil
	case strings.HasPrefix(url, "d1://"), strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return ProviderD1, nil
	default:
		return "", fmt.Errorf("driver: unrecognized connection url %q", url)
	}
}

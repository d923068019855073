// Package postgres implements the driver capability over a socket-based
// PostgreSQL server using pgx connection pools.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/driverbench/internal/driver"
)

// maxBindValues is the wire-protocol limit on bound parameters per
// statement (int16 parameter count).
const maxBindValues = 32767

// Manager owns one connection pool for one session.
type Manager struct {
	pool *pgxpool.Pool
}

// NewManager parses a postgres:// URL and builds the session's pool. The
// pool connects lazily; Connect performs the first ping.
func NewManager(url string) (*Manager, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing connection url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("building pool: %w", err)
	}
	return &Manager{pool: pool}, nil
}

// Provider implements driver.Manager.
func (m *Manager) Provider() driver.Provider { return driver.ProviderPostgres }

// Connect implements driver.Manager.
func (m *Manager) Connect(ctx context.Context) (driver.Queryable, error) {
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	return &queryable{pool: m.pool}, nil
}

// Release closes the pool. Not safe to call twice.
func (m *Manager) Release(ctx context.Context) error {
	m.pool.Close()
	return nil
}

type queryable struct {
	pool *pgxpool.Pool
}

func (q *queryable) Provider() driver.Provider { return driver.ProviderPostgres }

func (q *queryable) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (q *queryable) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	tag, err := q.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queryable) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &transaction{tx: tx}, nil
}

func (q *queryable) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	var schema string
	if err := q.pool.QueryRow(ctx, "SELECT current_schema()").Scan(&schema); err != nil {
		return nil, err
	}
	limit := maxBindValues
	return &driver.ConnectionInfo{MaxBindValues: &limit, SchemaName: schema}, nil
}

type transaction struct {
	tx pgx.Tx
}

func (t *transaction) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (t *transaction) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *transaction) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *transaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// collectRows drains a pgx cursor into the tagged result-set shape.
func collectRows(rows pgx.Rows) (*driver.ResultSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	tags := make([]driver.ColumnType, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
		tags[i] = columnTag(fd)
	}

	rs := &driver.ResultSet{
		ColumnNames: names,
		ColumnTypes: tags,
		Rows:        [][]any{},
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		copy(row, values)
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// columnTag maps a wire type OID to the closed column-type set.
func columnTag(fd pgconn.FieldDescription) driver.ColumnType {
	switch fd.DataTypeOID {
	case pgtype.Int2OID, pgtype.Int4OID:
		return driver.ColumnTypeInt32
	case pgtype.Int8OID:
		return driver.ColumnTypeInt64
	case pgtype.Float4OID:
		return driver.ColumnTypeFloat
	case pgtype.Float8OID:
		return driver.ColumnTypeDouble
	case pgtype.NumericOID:
		return driver.ColumnTypeNumeric
	case pgtype.BoolOID:
		return driver.ColumnTypeBool
	case pgtype.ByteaOID:
		return driver.ColumnTypeBytes
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.TimeOID:
		return driver.ColumnTypeDateTime
	case pgtype.JSONOID, pgtype.JSONBOID:
		return driver.ColumnTypeJSON
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID, pgtype.UUIDOID:
		return driver.ColumnTypeText
	default:
		return driver.ColumnTypeUnknown
	}
}

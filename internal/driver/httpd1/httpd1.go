// Package httpd1 implements the driver capability over an HTTP-proxied edge
// SQL binding. The binding speaks a small JSON API: /query and /execute for
// single statements, /batch for an atomic statement batch.
//
// The backend is SQLite-shaped, so this family shares the embedded store's
// reset semantics, executed through the HTTP boundary: introspect
// sqlite_master, drop user objects in one batch with foreign keys deferred,
// clear the autoincrement bookkeeping table tolerantly, then apply the
// migration script statement by statement (the binding rejects
// multi-statement execution).
package httpd1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/driver/sqlite"
)

// maxBindValues mirrors the embedded store's per-statement limit, which the
// binding inherits.
const maxBindValues = 100

// Manager owns one HTTP client for one session's binding endpoint.
type Manager struct {
	base   string
	client *http.Client
}

// NewManager normalizes a d1:// or http(s):// URL into the binding's base
// endpoint.
func NewManager(url string) (*Manager, error) {
	base := url
	if strings.HasPrefix(base, "d1://") {
		base = "https://" + strings.TrimPrefix(base, "d1://")
	}
	base = strings.TrimRight(base, "/")
	return &Manager{
		base:   base,
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Provider implements driver.Manager.
func (m *Manager) Provider() driver.Provider { return driver.ProviderD1 }

// Connect implements driver.Manager.
func (m *Manager) Connect(ctx context.Context) (driver.Queryable, error) {
	q := &queryable{mgr: m}
	// One round-trip up front so a bad endpoint fails at session
	// initialization, not on the first query.
	if _, err := q.QueryRaw(ctx, "SELECT 1", nil); err != nil {
		return nil, fmt.Errorf("connecting to binding: %w", err)
	}
	return q, nil
}

// Release implements driver.Manager. The HTTP client holds no per-session
// server state; idle connections are dropped.
func (m *Manager) Release(ctx context.Context) error {
	m.client.CloseIdleConnections()
	return nil
}

type statementRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type batchRequest struct {
	Statements       []string `json:"statements"`
	DeferForeignKeys bool     `json:"deferForeignKeys,omitempty"`
}

type executeResponse struct {
	RowsAffected int64   `json:"rowsAffected"`
	Error        *string `json:"error"`
}

type queryResponse struct {
	driver.ResultSet
	Error *string `json:"error"`
}

type queryable struct {
	mgr *Manager
}

func (q *queryable) Provider() driver.Provider { return driver.ProviderD1 }

func (q *queryable) QueryRaw(ctx context.Context, sql string, args []any) (*driver.ResultSet, error) {
	var resp queryResponse
	if err := q.mgr.post(ctx, "/query", statementRequest{SQL: sql, Params: args}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("binding error: %s", *resp.Error)
	}
	rs := resp.ResultSet
	if rs.Rows == nil {
		rs.Rows = [][]any{}
	}
	return &rs, nil
}

func (q *queryable) ExecuteRaw(ctx context.Context, sql string, args []any) (int64, error) {
	var resp executeResponse
	if err := q.mgr.post(ctx, "/execute", statementRequest{SQL: sql, Params: args}, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("binding error: %s", *resp.Error)
	}
	return resp.RowsAffected, nil
}

// StartTransaction always fails: the edge binding has no interactive
// transaction support, only atomic batches.
func (q *queryable) StartTransaction(ctx context.Context) (driver.Transaction, error) {
	return nil, driver.ErrTransactionsUnsupported
}

func (q *queryable) ConnectionInfo(ctx context.Context) (*driver.ConnectionInfo, error) {
	limit := maxBindValues
	return &driver.ConnectionInfo{MaxBindValues: &limit}, nil
}

// ResetSchema implements driver.SchemaResetter through the HTTP boundary.
func (m *Manager) ResetSchema(ctx context.Context, migrationScript string) error {
	q := &queryable{mgr: m}

	rs, err := q.QueryRaw(ctx, `
		SELECT type, name FROM sqlite_master
		WHERE type IN ('table', 'view', 'index')
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
	`, nil)
	if err != nil {
		return fmt.Errorf("introspecting schema: %w", err)
	}

	var drops []string
	for _, row := range rs.Rows {
		if len(row) != 2 {
			continue
		}
		objType, _ := row[0].(string)
		name, _ := row[1].(string)
		switch objType {
		case "table":
			drops = append(drops, fmt.Sprintf("DROP TABLE IF EXISTS %q", name))
		case "view":
			drops = append(drops, fmt.Sprintf("DROP VIEW IF EXISTS %q", name))
		case "index":
			drops = append(drops, fmt.Sprintf("DROP INDEX IF EXISTS %q", name))
		}
	}
	if len(drops) > 0 {
		var resp executeResponse
		if err := m.post(ctx, "/batch", batchRequest{Statements: drops, DeferForeignKeys: true}, &resp); err != nil {
			return fmt.Errorf("dropping user objects: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("dropping user objects: %s", *resp.Error)
		}
	}

	// The bookkeeping table may not exist on a fresh binding.
	if _, err := q.ExecuteRaw(ctx, "DELETE FROM sqlite_sequence", nil); err != nil {
		if !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("clearing sqlite_sequence: %w", err)
		}
	}

	if migrationScript == "" {
		return nil
	}
	stmts := sqlite.SplitStatements(migrationScript)
	if len(stmts) == 0 {
		return nil
	}
	var resp executeResponse
	if err := m.post(ctx, "/batch", batchRequest{Statements: stmts}, &resp); err != nil {
		return fmt.Errorf("applying migration batch: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("applying migration batch: %s", *resp.Error)
	}
	return nil
}

func (m *Manager) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binding returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

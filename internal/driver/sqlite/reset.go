package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// sequenceTable is SQLite's autoincrement bookkeeping table. It is created
// lazily by the backend, so it is cleared outside the drop batch and a
// missing-table failure is tolerated.
const sequenceTable = "sqlite_sequence"

// ResetSchema implements driver.SchemaResetter for the embedded family.
//
// The drop batch runs with foreign-key enforcement deferred for its
// duration, so drop order does not matter. The migration script, when
// supplied, is split into individual statements (the backend rejects
// multi-statement execution) and applied as one atomic batch.
func (m *Manager) ResetSchema(ctx context.Context, migrationScript string) error {
	drops, err := m.introspectDropStatements(ctx)
	if err != nil {
		return fmt.Errorf("introspecting schema: %w", err)
	}

	if len(drops) > 0 {
		if err := m.runBatchDeferringFKs(ctx, drops); err != nil {
			return fmt.Errorf("dropping user objects: %w", err)
		}
	}

	// The bookkeeping table may not exist; a failed delete is not fatal.
	if _, err := m.db.ExecContext(ctx, "DELETE FROM "+sequenceTable); err != nil {
		if !strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("clearing %s: %w", sequenceTable, err)
		}
	}

	if migrationScript == "" {
		return nil
	}

	stmts := SplitStatements(migrationScript)
	if len(stmts) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration batch: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration statement %q: %w", truncate(stmt, 80), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration batch: %w", err)
	}
	return nil
}

// introspectDropStatements lists DROP statements for every user table, view
// and index. Internal sqlite_% objects and the sequence bookkeeping table
// are excluded.
func (m *Manager) introspectDropStatements(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT type, name FROM sqlite_master
		WHERE type IN ('table', 'view', 'index')
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drops []string
	for rows.Next() {
		var objType, name string
		if err := rows.Scan(&objType, &name); err != nil {
			return nil, err
		}
		switch objType {
		case "table":
			drops = append(drops, fmt.Sprintf("DROP TABLE IF EXISTS %q", name))
		case "view":
			drops = append(drops, fmt.Sprintf("DROP VIEW IF EXISTS %q", name))
		case "index":
			drops = append(drops, fmt.Sprintf("DROP INDEX IF EXISTS %q", name))
		}
	}
	return drops, rows.Err()
}

// runBatchDeferringFKs executes statements as one batch with foreign-key
// enforcement deferred for the batch's duration.
func (m *Manager) runBatchDeferringFKs(ctx context.Context, stmts []string) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, "PRAGMA defer_foreign_keys = OFF")
	return err
}

// SplitStatements splits a migration script into individual statements.
//
// Semicolons inside string literals, quoted identifiers, line comments and
// block comments do not terminate a statement. Empty statements are
// dropped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
	)

	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)
	state := stateNormal

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case c == ';':
				if s := strings.TrimSpace(current.String()); s != "" && !commentOnly(s) {
					stmts = append(stmts, s)
				}
				current.Reset()
				continue
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '-' && next == '-':
				state = stateLineComment
			case c == '/' && next == '*':
				state = stateBlockComment
			}
		case stateSingleQuote:
			if c == '\'' {
				// Doubled quote is an escaped quote, not a close.
				if next == '\'' {
					current.WriteRune(c)
					i++
					c = runes[i]
				} else {
					state = stateNormal
				}
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				current.WriteRune(c)
				i++
				c = runes[i]
				state = stateNormal
			}
		}
		current.WriteRune(c)
	}

	if s := strings.TrimSpace(current.String()); s != "" && !commentOnly(s) {
		stmts = append(stmts, s)
	}
	return stmts
}

// commentOnly reports whether a statement consists entirely of comments
// and whitespace.
func commentOnly(stmt string) bool {
	s := strings.TrimSpace(stmt)
	for s != "" {
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return true
			}
			s = strings.TrimSpace(s[idx+1:])
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return true
			}
			s = strings.TrimSpace(s[idx+2:])
		default:
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

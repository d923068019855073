package testutil

import (
	"context"
	"testing"

	"github.com/roach88/driverbench/internal/driver"
)

func TestFakeQueryable_CannedResults(t *testing.T) {
	f := NewFakeQueryable()
	f.Results["SELECT 1"] = &driver.ResultSet{ColumnNames: []string{"one"}}
	f.ExecResults["DELETE FROM t"] = 3
	ctx := context.Background()

	rs, err := f.QueryRaw(ctx, "SELECT 1", nil)
	if err != nil {
		t.Fatalf("QueryRaw() failed: %v", err)
	}
	if rs.ColumnNames[0] != "one" {
		t.Errorf("columns = %v", rs.ColumnNames)
	}

	n, err := f.ExecuteRaw(ctx, "DELETE FROM t", nil)
	if err != nil {
		t.Fatalf("ExecuteRaw() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("affected = %d, want 3", n)
	}

	// Unconfigured statements succeed with empty results.
	rs, err = f.QueryRaw(ctx, "SELECT unconfigured", nil)
	if err != nil {
		t.Fatalf("QueryRaw() failed: %v", err)
	}
	if len(rs.Rows) != 0 {
		t.Errorf("rows = %v, want empty", rs.Rows)
	}

	if f.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", f.CallCount())
	}
}

func TestFakeTransaction_DoubleFinishRejected(t *testing.T) {
	f := NewFakeQueryable()
	tx, err := f.StartTransaction(context.Background())
	if err != nil {
		t.Fatalf("StartTransaction() failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != ErrTxFinished {
		t.Errorf("second Commit() = %v, want ErrTxFinished", err)
	}
	if err := tx.Rollback(context.Background()); err != ErrTxFinished {
		t.Errorf("Rollback() after Commit() = %v, want ErrTxFinished", err)
	}
}

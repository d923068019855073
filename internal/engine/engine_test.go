package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/errbridge"
	"github.com/roach88/driverbench/internal/testutil"
)

// memLog collects engine log lines for assertions.
type memLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *memLog) Append(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *memLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func connectedEngine(t *testing.T, capability driver.Queryable) (*Engine, *memLog) {
	t.Helper()
	logs := &memLog{}
	eng := New(capability, "", logs)
	require.NoError(t, eng.Connect(context.Background()))
	return eng, logs
}

func TestEngine_ConnectTwiceFails(t *testing.T) {
	eng, _ := connectedEngine(t, testutil.NewFakeQueryable())
	assert.Error(t, eng.Connect(context.Background()))
}

func TestEngine_QueryBeforeConnectFails(t *testing.T) {
	eng := New(testutil.NewFakeQueryable(), "", &memLog{})
	_, err := eng.Query(context.Background(), json.RawMessage(`{"sql":"SELECT 1"}`), "")
	assert.Error(t, err)
}

func TestEngine_QueryReturnsResultSet(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	fake.Results["SELECT id FROM users"] = &driver.ResultSet{
		ColumnNames: []string{"id"},
		ColumnTypes: []driver.ColumnType{driver.ColumnTypeInt32},
		Rows:        [][]any{{int64(1)}},
	}
	eng, logs := connectedEngine(t, fake)

	raw, err := eng.Query(context.Background(), json.RawMessage(`{"sql":"SELECT id FROM users"}`), "")
	require.NoError(t, err)

	var resp struct {
		Data driver.ResultSet `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, []string{"id"}, resp.Data.ColumnNames)

	assert.Contains(t, logs.snapshot(), "db.statement: SELECT id FROM users")
}

func TestEngine_ExecuteReturnsRowCount(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	fake.ExecResults["DELETE FROM users"] = 4
	eng, _ := connectedEngine(t, fake)

	raw, err := eng.Query(context.Background(), json.RawMessage(`{"sql":"DELETE FROM users"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"rowsAffected":4}}`, string(raw))
}

func TestEngine_KindOverridesInference(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	fake.ExecResults["SELECT sneaky_write()"] = 1
	eng, _ := connectedEngine(t, fake)

	raw, err := eng.Query(context.Background(),
		json.RawMessage(`{"sql":"SELECT sneaky_write()","kind":"execute"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"rowsAffected":1}}`, string(raw))
}

func TestEngine_MalformedBodyIsHandlerFailure(t *testing.T) {
	eng, _ := connectedEngine(t, testutil.NewFakeQueryable())

	_, err := eng.Query(context.Background(), json.RawMessage(`{"sql":42}`), "")
	assert.Error(t, err)

	_, err = eng.Query(context.Background(), json.RawMessage(`{}`), "")
	assert.Error(t, err)
}

func TestEngine_BridgedErrorShapedAsExternalDriverError(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	original := errors.New("UNIQUE constraint failed")
	fake.Errs["INSERT INTO users (email) VALUES (?)"] = original

	reg := errbridge.NewRegistry()
	eng, _ := connectedEngine(t, errbridge.Wrap(fake, reg))

	raw, err := eng.Query(context.Background(),
		json.RawMessage(`{"sql":"INSERT INTO users (email) VALUES (?)","params":["a@b"]}`), "")
	require.NoError(t, err, "driver failures ride inside the payload")

	var resp struct {
		Errors []struct {
			UserFacingError struct {
				ErrorCode string `json:"error_code"`
				Meta      struct {
					ID string `json:"id"`
				} `json:"meta"`
			} `json:"user_facing_error"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "P2036", resp.Errors[0].UserFacingError.ErrorCode)

	// Only the opaque id crossed; the original is waiting in the registry.
	id := resp.Errors[0].UserFacingError.Meta.ID
	require.NotEmpty(t, id)
	recovered, ok := reg.Consume(id)
	require.True(t, ok)
	assert.Equal(t, original, recovered)
}

func TestEngine_PlainErrorShapedAsRawQueryFailure(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	fake.Errs["SELECT boom"] = errors.New("boom")
	eng, _ := connectedEngine(t, fake)

	raw, err := eng.Query(context.Background(), json.RawMessage(`{"sql":"SELECT boom"}`), "")
	require.NoError(t, err)

	var resp struct {
		Errors []struct {
			UserFacingError struct {
				ErrorCode string `json:"error_code"`
			} `json:"user_facing_error"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "P2010", resp.Errors[0].UserFacingError.ErrorCode)
}

func TestEngine_QueryWithUnknownTxFails(t *testing.T) {
	eng, _ := connectedEngine(t, testutil.NewFakeQueryable())

	_, err := eng.Query(context.Background(), json.RawMessage(`{"sql":"SELECT 1"}`), "no-such-tx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEngine_QueriesRacingDisconnectFailCleanly(t *testing.T) {
	eng, _ := connectedEngine(t, testutil.NewFakeQueryable())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either outcome is fine; what matters is no race on the
			// connection flag.
			_, _ = eng.Query(ctx, json.RawMessage(`{"sql":"SELECT 1"}`), "")
		}()
	}
	require.NoError(t, eng.Disconnect(ctx))
	wg.Wait()

	_, err := eng.Query(ctx, json.RawMessage(`{"sql":"SELECT 1"}`), "")
	assert.Error(t, err)
}

func TestIsReadStatement(t *testing.T) {
	tests := []struct {
		sql  string
		kind string
		want bool
	}{
		{"SELECT 1", "", true},
		{"  select * from t", "", true},
		{"PRAGMA foreign_keys", "", true},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", "", true},
		{"INSERT INTO t VALUES (1)", "", false},
		{"UPDATE t SET x = 1", "", false},
		{"CREATE TABLE t (x INTEGER)", "", false},
		{"INSERT INTO t VALUES (1)", "query", true},
		{"SELECT 1", "execute", false},
	}
	for _, tt := range tests {
		if got := isReadStatement(tt.sql, tt.kind); got != tt.want {
			t.Errorf("isReadStatement(%q, %q) = %v, want %v", tt.sql, tt.kind, got, tt.want)
		}
	}
}

package errbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driverbench/internal/testutil"
)

func TestRegistry_CaptureConsumeOnce(t *testing.T) {
	reg := NewRegistry()
	original := errors.New("UNIQUE constraint failed: users.email")

	id := reg.Capture(original)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Consume(id)
	require.True(t, ok)
	assert.Equal(t, original, got)
	assert.Equal(t, 0, reg.Len())

	// Second consumption of the same id must miss.
	_, ok = reg.Consume(id)
	assert.False(t, ok)
}

func TestRegistry_ConsumeUnknownID(t *testing.T) {
	reg := NewRegistry()

	got, ok := reg.Consume("never-captured")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRegistry_MintsDistinctIDs(t *testing.T) {
	reg := NewRegistry()

	a := reg.Capture(errors.New("first"))
	b := reg.Capture(errors.New("second"))
	require.NotEqual(t, a, b)

	gotA, ok := reg.Consume(a)
	require.True(t, ok)
	assert.EqualError(t, gotA, "first")

	gotB, ok := reg.Consume(b)
	require.True(t, ok)
	assert.EqualError(t, gotB, "second")
}

func TestWrap_QueryFailureCrossesAsOpaqueID(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	original := errors.New("no such table: missing")
	fake.Errs["SELECT * FROM missing"] = original

	reg := NewRegistry()
	wrapped := Wrap(fake, reg)

	_, err := wrapped.QueryRaw(context.Background(), "SELECT * FROM missing", nil)
	require.Error(t, err)

	var bridged *BridgedError
	require.ErrorAs(t, err, &bridged)
	require.NotEmpty(t, bridged.ID)

	recovered, ok := reg.Consume(bridged.ID)
	require.True(t, ok)
	assert.Equal(t, original, recovered)
}

func TestWrap_SuccessPassesThrough(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	reg := NewRegistry()
	wrapped := Wrap(fake, reg)

	rs, err := wrapped.QueryRaw(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.Equal(t, 0, reg.Len())

	n, err := wrapped.ExecuteRaw(context.Background(), "DELETE FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestWrap_TransactionFailuresCaptured(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	original := errors.New("deadlock detected")
	fake.Errs["UPDATE t SET x = 1"] = original

	reg := NewRegistry()
	wrapped := Wrap(fake, reg)

	tx, err := wrapped.StartTransaction(context.Background())
	require.NoError(t, err)

	_, err = tx.ExecuteRaw(context.Background(), "UPDATE t SET x = 1", nil)
	var bridged *BridgedError
	require.ErrorAs(t, err, &bridged)

	recovered, ok := reg.Consume(bridged.ID)
	require.True(t, ok)
	assert.Equal(t, original, recovered)

	require.NoError(t, tx.Commit(context.Background()))

	// The backend rejects the double commit; the bridge captures that
	// rejection like any other failure instead of masking it.
	err = tx.Commit(context.Background())
	require.ErrorAs(t, err, &bridged)
	recovered, ok = reg.Consume(bridged.ID)
	require.True(t, ok)
	assert.Equal(t, testutil.ErrTxFinished, recovered)
}

func TestWrap_StartTransactionFailureCaptured(t *testing.T) {
	fake := testutil.NewFakeQueryable()
	fake.TxErr = errors.New("cannot start a transaction within a transaction")

	reg := NewRegistry()
	wrapped := Wrap(fake, reg)

	_, err := wrapped.StartTransaction(context.Background())
	var bridged *BridgedError
	require.ErrorAs(t, err, &bridged)
	assert.Equal(t, 1, reg.Len())
}

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdowney/isolab/internal/store"
)

func seeded(t *testing.T, fixture []store.Item, opts ...Option) *Store {
	t.Helper()
	st := Open(opts...)
	require.NoError(t, st.Reset(context.Background(), fixture))
	return st
}

func begin(t *testing.T, st *Store, level store.IsolationLevel) (store.Session, store.Tx) {
	t.Helper()
	ctx := context.Background()
	sess, err := st.Session(ctx)
	require.NoError(t, err)
	tx, err := sess.Begin(ctx, level)
	require.NoError(t, err)
	return sess, tx
}

func TestReadCommitted_NoDirtyRead(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 50))

	_, reader := begin(t, st, store.ReadCommitted)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price, "uncommitted write must not be visible")

	require.NoError(t, writer.Rollback(ctx))

	price, err = reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestReadUncommitted_MapsToReadCommitted(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 50))

	_, reader := begin(t, st, store.ReadUncommitted)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestReadCommitted_NonRepeatableRead(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 150}})

	_, reader := begin(t, st, store.ReadCommitted)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 1))
	require.NoError(t, writer.Commit(ctx))

	price, err = reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 151.0, price, "READ_COMMITTED re-read sees the concurrent commit")
}

func TestRepeatableRead_SnapshotStable(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 50}})

	_, reader := begin(t, st, store.RepeatableRead)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, price)

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 1))
	require.NoError(t, writer.Commit(ctx))

	price, err = reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, price, "snapshot re-read must not move")
	require.NoError(t, reader.Commit(ctx))

	_, after := begin(t, st, store.ReadCommitted)
	price, err = after.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 51.0, price)
}

func TestRepeatableRead_FirstUpdaterWins(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, snap := begin(t, st, store.RepeatableRead)
	_, err := snap.ReadPrice(ctx, 1)
	require.NoError(t, err)

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 1))
	require.NoError(t, writer.Commit(ctx))

	err = snap.UpdatePrice(ctx, 1, 5)
	require.Error(t, err)
	assert.True(t, store.IsSerializationFailure(err))
	assert.True(t, store.IsRecoverable(err))
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}},
		WithLockWait(5*time.Millisecond))

	_, holder := begin(t, st, store.ReadCommitted)
	require.NoError(t, holder.UpdatePrice(ctx, 1, 10))

	_, waiter := begin(t, st, store.ReadCommitted)
	err := waiter.UpdatePrice(ctx, 1, 5)
	require.Error(t, err)
	assert.True(t, store.IsLockTimeout(err))
	assert.Equal(t, store.CodeLockTimeout, store.CodeOf(err))
}

func TestLockReleasedOnRollback(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}},
		WithLockWait(5*time.Millisecond))

	_, holder := begin(t, st, store.ReadCommitted)
	require.NoError(t, holder.UpdatePrice(ctx, 1, 10))
	require.NoError(t, holder.Rollback(ctx))

	_, next := begin(t, st, store.ReadCommitted)
	require.NoError(t, next.UpdatePrice(ctx, 1, 5))
	require.NoError(t, next.Commit(ctx))

	_, reader := begin(t, st, store.ReadCommitted)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 105.0, price)
}

func TestSerializable_PointReadInvalidatedAtCommit(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, ser := begin(t, st, store.Serializable)
	_, err := ser.ReadPrice(ctx, 1)
	require.NoError(t, err)

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 1, 1))
	require.NoError(t, writer.Commit(ctx))

	err = ser.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsSerializationFailure(err))
}

func TestSerializable_PredicateInvalidatedAtCommit(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{
		{ID: 1, Name: "gadget-1", Price: 80},
		{ID: 2, Name: "trinket", Price: 25},
	})
	pred := store.Predicate{MinPrice: 50}

	_, ser := begin(t, st, store.Serializable)
	n, err := ser.Count(ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.Insert(ctx, store.Item{Name: "gadget-2", Price: 100}))
	require.NoError(t, writer.Commit(ctx))

	err = ser.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsSerializationFailure(err))
	assert.Contains(t, err.Error(), "predicate price>=50")
}

func TestSerializable_CleanCommit(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{
		{ID: 1, Name: "apple", Price: 100},
		{ID: 2, Name: "pear", Price: 40},
	})

	_, ser := begin(t, st, store.Serializable)
	_, err := ser.ReadPrice(ctx, 1)
	require.NoError(t, err)

	// Concurrent commit touching a row this transaction never read.
	_, writer := begin(t, st, store.ReadCommitted)
	require.NoError(t, writer.UpdatePrice(ctx, 2, 1))
	require.NoError(t, writer.Commit(ctx))

	require.NoError(t, ser.Commit(ctx))
}

func TestInsert_AutoIDAndOwnVisibility(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{
		{ID: 1, Name: "gadget-1", Price: 80},
		{ID: 2, Name: "gadget-2", Price: 120},
	})
	pred := store.Predicate{MinPrice: 50}

	_, tx := begin(t, st, store.ReadCommitted)
	require.NoError(t, tx.Insert(ctx, store.Item{Name: "gadget-3", Price: 100}))

	// The insert is visible to its own transaction before commit.
	n, err := tx.Count(ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	price, err := tx.ReadPrice(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	require.NoError(t, tx.Commit(ctx))

	_, after := begin(t, st, store.ReadCommitted)
	n, err = after.Count(ctx, pred)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInsert_DuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, tx := begin(t, st, store.ReadCommitted)
	err := tx.Insert(ctx, store.Item{ID: 1, Name: "dup", Price: 1})
	require.Error(t, err)
	assert.Equal(t, store.CodeStepExecution, store.CodeOf(err))
	assert.False(t, store.IsRecoverable(err))
}

func TestCount_DeletedRowsExcluded(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{
		{ID: 1, Name: "gadget-1", Price: 80},
		{ID: 2, Name: "gadget-2", Price: 120, Deleted: true},
	})

	_, tx := begin(t, st, store.ReadCommitted)
	n, err := tx.Count(ctx, store.Predicate{MinPrice: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxStateGuards(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	sess, tx := begin(t, st, store.ReadCommitted)
	require.NoError(t, tx.Commit(ctx))

	_, err := tx.ReadPrice(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, store.CodeStepExecution, store.CodeOf(err))

	err = tx.Commit(ctx)
	require.Error(t, err)

	// Rollback is idempotent no matter the state.
	assert.NoError(t, tx.Rollback(ctx))

	// The session is free again after the first transaction finished.
	next, err := sess.Begin(ctx, store.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, next.Rollback(ctx))
}

func TestSession_SingleOpenTx(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	sess, err := st.Session(ctx)
	require.NoError(t, err)
	_, err = sess.Begin(ctx, store.ReadCommitted)
	require.NoError(t, err)

	_, err = sess.Begin(ctx, store.ReadCommitted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}

func TestSessionClose_RollsBackOpenTx(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}},
		WithLockWait(5*time.Millisecond))

	sess, tx := begin(t, st, store.ReadCommitted)
	require.NoError(t, tx.UpdatePrice(ctx, 1, 10))
	require.NoError(t, sess.Close())

	// The lock is gone and the write was discarded.
	_, next := begin(t, st, store.ReadCommitted)
	require.NoError(t, next.UpdatePrice(ctx, 1, 5))
	require.NoError(t, next.Commit(ctx))

	_, reader := begin(t, st, store.ReadCommitted)
	price, err := reader.ReadPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 105.0, price)

	_, err = sess.Begin(ctx, store.ReadCommitted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestReset_ReplacesState(t *testing.T) {
	ctx := context.Background()
	st := seeded(t, []store.Item{{ID: 1, Name: "apple", Price: 100}})

	_, tx := begin(t, st, store.ReadCommitted)
	require.NoError(t, tx.UpdatePrice(ctx, 1, 50))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, st.Reset(ctx, []store.Item{{ID: 7, Name: "pear", Price: 30}}))

	_, after := begin(t, st, store.ReadCommitted)
	_, err := after.ReadPrice(ctx, 1)
	require.Error(t, err, "old rows are gone after reset")

	price, err := after.ReadPrice(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 30.0, price)

	// Auto ids continue past the highest fixture id.
	require.NoError(t, after.Insert(ctx, store.Item{Name: "plum", Price: 10}))
	price, err = after.ReadPrice(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 10.0, price)
}

func TestReset_RejectsBadFixture(t *testing.T) {
	ctx := context.Background()
	st := Open()

	err := st.Reset(ctx, []store.Item{{Name: "noid", Price: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive id")

	err = st.Reset(ctx, []store.Item{
		{ID: 1, Name: "a", Price: 1},
		{ID: 1, Name: "b", Price: 2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdowney/isolab/internal/store"
	"github.com/tdowney/isolab/internal/store/memstore"
)

func newActor(t *testing.T, level store.IsolationLevel) *Actor {
	t.Helper()
	ctx := context.Background()
	st := memstore.Open()
	require.NoError(t, st.Reset(ctx, []store.Item{{ID: 1, Name: "apple", Price: 100}}))
	sess, err := st.Session(ctx)
	require.NoError(t, err)
	a := NewActor("A", level, sess)
	t.Cleanup(func() { a.Close(ctx) })
	return a
}

func TestActorLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newActor(t, store.ReadCommitted)

	assert.Equal(t, "A", a.Role())
	assert.Equal(t, store.ReadCommitted, a.Isolation())
	assert.Equal(t, StateNotStarted, a.State())

	require.NoError(t, a.Begin(ctx))
	assert.Equal(t, StateActive, a.State())

	price, err := a.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	require.NoError(t, a.Update(ctx, 1, 5))
	require.NoError(t, a.Commit(ctx))
	assert.Equal(t, StateCommitted, a.State())
	assert.True(t, a.State().Terminal())
}

func TestActorMisuseBeforeBegin(t *testing.T) {
	ctx := context.Background()
	a := newActor(t, store.ReadCommitted)

	_, err := a.Read(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsMisuse(err))
	assert.Contains(t, err.Error(), "ACTOR_MISUSE")
	assert.Contains(t, err.Error(), "NOT_STARTED")

	require.Error(t, a.Commit(ctx))
	require.Error(t, a.Rollback(ctx))
	require.Error(t, a.Update(ctx, 1, 1))
	require.Error(t, a.Insert(ctx, store.Item{Name: "x", Price: 1}))
	require.Error(t, a.Sleep(ctx, 0))
	_, err = a.Count(ctx, store.Predicate{MinPrice: 1})
	require.Error(t, err)

	// Misuse never advances the state machine.
	assert.Equal(t, StateNotStarted, a.State())
}

func TestActorBeginOnlyOnce(t *testing.T) {
	ctx := context.Background()
	a := newActor(t, store.ReadCommitted)

	require.NoError(t, a.Begin(ctx))
	err := a.Begin(ctx)
	require.Error(t, err)
	assert.True(t, IsMisuse(err))
	assert.Equal(t, StateActive, a.State())
}

func TestActorTerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()

	a := newActor(t, store.ReadCommitted)
	require.NoError(t, a.Begin(ctx))
	require.NoError(t, a.Rollback(ctx))
	assert.Equal(t, StateRolledBack, a.State())

	err := a.Begin(ctx)
	assert.True(t, IsMisuse(err))
	_, err = a.Read(ctx, 1)
	assert.True(t, IsMisuse(err))
	err = a.Rollback(ctx)
	assert.True(t, IsMisuse(err))

	b := newActor(t, store.ReadCommitted)
	require.NoError(t, b.Begin(ctx))
	require.NoError(t, b.Commit(ctx))
	err = b.Commit(ctx)
	assert.True(t, IsMisuse(err))
	err = b.Rollback(ctx)
	assert.True(t, IsMisuse(err))
}

func TestActorFailedCommit(t *testing.T) {
	ctx := context.Background()
	st := memstore.Open()
	require.NoError(t, st.Reset(ctx, []store.Item{{ID: 1, Name: "apple", Price: 100}}))

	sessA, err := st.Session(ctx)
	require.NoError(t, err)
	a := NewActor("A", store.Serializable, sessA)
	defer a.Close(ctx)

	sessB, err := st.Session(ctx)
	require.NoError(t, err)
	b := NewActor("B", store.ReadCommitted, sessB)
	defer b.Close(ctx)

	require.NoError(t, a.Begin(ctx))
	_, err = a.Read(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, b.Begin(ctx))
	require.NoError(t, b.Update(ctx, 1, 1))
	require.NoError(t, b.Commit(ctx))

	err = a.Commit(ctx)
	require.Error(t, err)
	assert.True(t, store.IsSerializationFailure(err))
	assert.Equal(t, StateFailed, a.State())
	assert.True(t, a.State().Terminal())
}

func TestActorSleep(t *testing.T) {
	ctx := context.Background()
	a := newActor(t, store.ReadCommitted)
	require.NoError(t, a.Begin(ctx))

	// Zero duration is an ordering marker only.
	start := time.Now()
	require.NoError(t, a.Sleep(ctx, 0))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, a.Sleep(ctx, time.Millisecond))
	assert.Equal(t, StateActive, a.State())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := a.Sleep(canceled, time.Second)
	require.Error(t, err)
	assert.Equal(t, store.CodeStepExecution, store.CodeOf(err))
}

func TestActorCloseRollsBack(t *testing.T) {
	ctx := context.Background()
	st := memstore.Open()
	require.NoError(t, st.Reset(ctx, []store.Item{{ID: 1, Name: "apple", Price: 100}}))

	sess, err := st.Session(ctx)
	require.NoError(t, err)
	a := NewActor("A", store.ReadCommitted, sess)
	require.NoError(t, a.Begin(ctx))
	require.NoError(t, a.Update(ctx, 1, 50))
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, StateRolledBack, a.State())

	sess2, err := st.Session(ctx)
	require.NoError(t, err)
	b := NewActor("B", store.ReadCommitted, sess2)
	defer b.Close(ctx)
	require.NoError(t, b.Begin(ctx))
	price, err := b.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

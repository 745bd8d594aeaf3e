package harness

import (
	"context"
	"time"

	"github.com/tdowney/isolab/internal/store"
)

// State is an actor's position in its transaction lifecycle. Transitions
// are monotonic: once COMMITTED, ROLLED_BACK or FAILED, an actor never
// becomes ACTIVE again.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateActive     State = "ACTIVE"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
	StateFailed     State = "FAILED"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateFailed:
		return true
	}
	return false
}

// Actor owns one store session and at most one live transaction at its
// declared isolation level. Every primitive checks the state machine
// first; an illegal call fails with *MisuseError and changes nothing.
type Actor struct {
	role    string
	level   store.IsolationLevel
	session store.Session
	tx      store.Tx
	state   State
}

// NewActor wraps a session for one scenario role. The actor owns the
// session until Close.
func NewActor(role string, level store.IsolationLevel, session store.Session) *Actor {
	return &Actor{
		role:    role,
		level:   level,
		session: session,
		state:   StateNotStarted,
	}
}

func (a *Actor) Role() string                    { return a.role }
func (a *Actor) Isolation() store.IsolationLevel { return a.level }
func (a *Actor) State() State                    { return a.state }

func (a *Actor) misuse(action Action) error {
	return &MisuseError{Role: a.role, Action: action, State: a.state}
}

func (a *Actor) requireActive(action Action) error {
	if a.state != StateActive {
		return a.misuse(action)
	}
	return nil
}

// Begin opens the actor's transaction at its declared isolation level.
// Legal exactly once, from NOT_STARTED.
func (a *Actor) Begin(ctx context.Context) error {
	if a.state != StateNotStarted {
		return a.misuse(ActionBegin)
	}
	tx, err := a.session.Begin(ctx, a.level)
	if err != nil {
		a.state = StateFailed
		return err
	}
	a.tx = tx
	a.state = StateActive
	return nil
}

// Read is a point read of one fixture row's price.
func (a *Actor) Read(ctx context.Context, id int64) (float64, error) {
	if err := a.requireActive(ActionRead); err != nil {
		return 0, err
	}
	return a.tx.ReadPrice(ctx, id)
}

// Count returns the number of rows matching the predicate under the
// actor's visibility rules.
func (a *Actor) Count(ctx context.Context, pred store.Predicate) (int, error) {
	if err := a.requireActive(ActionCount); err != nil {
		return 0, err
	}
	return a.tx.Count(ctx, pred)
}

// Update adds delta to a row's price inside the open transaction.
func (a *Actor) Update(ctx context.Context, id int64, delta float64) error {
	if err := a.requireActive(ActionUpdate); err != nil {
		return err
	}
	return a.tx.UpdatePrice(ctx, id, delta)
}

// Insert adds a row inside the open transaction.
func (a *Actor) Insert(ctx context.Context, item store.Item) error {
	if err := a.requireActive(ActionInsert); err != nil {
		return err
	}
	return a.tx.Insert(ctx, item)
}

// Sleep leaves the transaction open and untouched. The zero duration is
// purely an ordering marker; a positive duration spends real wall-clock
// time, for scenarios whose narrative includes an actual elapsed delay.
func (a *Actor) Sleep(ctx context.Context, d time.Duration) error {
	if err := a.requireActive(ActionSleep); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return store.NewStepError(store.CodeStepExecution, "sleep", "canceled during sleep", ctx.Err())
	}
}

// Commit attempts to make the transaction durable. A store-detected
// conflict fails the commit and moves the actor to FAILED; the error is
// the recorded demonstration outcome, not a crash.
func (a *Actor) Commit(ctx context.Context) error {
	if err := a.requireActive(ActionCommit); err != nil {
		return err
	}
	if err := a.tx.Commit(ctx); err != nil {
		a.state = StateFailed
		return err
	}
	a.state = StateCommitted
	return nil
}

// Rollback discards the transaction. Per the store contract it never
// fails; the actor always reaches ROLLED_BACK.
func (a *Actor) Rollback(ctx context.Context) error {
	if err := a.requireActive(ActionRollback); err != nil {
		return err
	}
	_ = a.tx.Rollback(ctx)
	a.state = StateRolledBack
	return nil
}

// Close releases the actor's session, rolling back a still-open
// transaction first. Safe on every exit path.
func (a *Actor) Close(ctx context.Context) error {
	if a.state == StateActive {
		_ = a.Rollback(ctx)
	}
	return a.session.Close()
}

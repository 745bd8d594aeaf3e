package store

import (
	"context"
	"fmt"
)

// IsolationLevel is a transaction's visibility contract, weakest first.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "READ_UNCOMMITTED"
	ReadCommitted   IsolationLevel = "READ_COMMITTED"
	RepeatableRead  IsolationLevel = "REPEATABLE_READ"
	Serializable    IsolationLevel = "SERIALIZABLE"
)

// Levels lists the supported isolation levels, weakest first.
var Levels = []IsolationLevel{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable}

// ParseIsolation validates a level name as written in scenario files.
func ParseIsolation(s string) (IsolationLevel, error) {
	for _, l := range Levels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown isolation level %q: must be one of %v", s, Levels)
}

// Snapshotted reports whether the level pins a transaction-wide snapshot.
// READ_UNCOMMITTED and READ_COMMITTED read per statement instead.
func (l IsolationLevel) Snapshotted() bool {
	return l == RepeatableRead || l == Serializable
}

// Item is the contention fixture row shared by all scenarios.
type Item struct {
	ID      int64   `yaml:"id"`
	Name    string  `yaml:"name"`
	Price   float64 `yaml:"price"`
	Deleted bool    `yaml:"deleted,omitempty"`
}

// Predicate selects fixture rows for COUNT steps: live rows whose price
// is at least MinPrice. This is the phantom-read contention range.
type Predicate struct {
	MinPrice float64 `yaml:"min_price"`
}

// Matches reports whether the item falls inside the predicate's range.
func (p Predicate) Matches(it Item) bool {
	return !it.Deleted && it.Price >= p.MinPrice
}

func (p Predicate) String() string {
	return fmt.Sprintf("price>=%v", p.MinPrice)
}

// Store is a relational store the harness can reset and open sessions on.
type Store interface {
	// Session opens a dedicated connection. Each actor owns exactly one
	// session for its whole lifetime.
	Session(ctx context.Context) (Session, error)

	// Reset replaces the fixture table contents with the given rows.
	// Called once at the start of every scenario run.
	Reset(ctx context.Context, fixture []Item) error

	Close() error
}

// Session is one owned connection. At most one transaction is open on a
// session at any time.
type Session interface {
	// Begin opens a transaction at the given isolation level.
	Begin(ctx context.Context, level IsolationLevel) (Tx, error)

	// Close releases the connection. Any transaction still open on the
	// session is rolled back first.
	Close() error
}

// Tx is an open transaction. All errors returned by Tx methods are
// *StepError values; Commit in particular may fail with
// CodeSerializationFailure under stricter isolation levels.
type Tx interface {
	// ReadPrice is a point read of one fixture row's price.
	ReadPrice(ctx context.Context, id int64) (float64, error)

	// Count returns how many rows match the predicate under this
	// transaction's visibility rules.
	Count(ctx context.Context, pred Predicate) (int, error)

	// UpdatePrice adds delta to the row's price. The change is not
	// durable until Commit.
	UpdatePrice(ctx context.Context, id int64, delta float64) error

	// Insert adds a new row. A zero ID asks the store to assign one.
	Insert(ctx context.Context, item Item) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

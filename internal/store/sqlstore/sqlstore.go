// Package sqlstore implements the store contract over database/sql.
//
// Two engines are supported, selected by the DSN shape:
//
//   - postgres:// or postgresql:// DSNs use the pgx stdlib driver. All
//     four isolation levels are passed through to the server, which maps
//     READ_UNCOMMITTED to READ_COMMITTED itself.
//   - anything else is treated as a SQLite path for mattn/go-sqlite3.
//     SQLite transactions are serializable regardless of the requested
//     level, so levels are advisory there; the harness's deterministic
//     runs use the in-memory store instead.
//
// Every statement runs under an execution budget so a blocked writer
// fails the step with a lock timeout instead of hanging the run.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tdowney/isolab/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// DefaultStatementTimeout bounds each statement's execution.
const DefaultStatementTimeout = 5 * time.Second

// Store is a SQL-backed implementation of store.Store.
type Store struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithStatementTimeout overrides the per-statement execution budget.
func WithStatementTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// Open connects to the store named by the DSN and creates the fixture
// table if it does not exist. Safe to call against an existing database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	driver, dsn := resolveDSN(dsn)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Each actor owns one connection, so keep a small pool of warm ones.
	db.SetMaxIdleConns(4)

	s := &Store{db: db, driver: driver, timeout: DefaultStatementTimeout}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// resolveDSN picks the driver and normalizes the DSN. SQLite paths get
// a busy timeout and WAL mode so two live connections can coexist.
func resolveDSN(dsn string) (driver, resolved string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", dsn
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	return "sqlite3", dsn
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Session pins one connection out of the pool for an actor's lifetime.
func (s *Store) Session(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, classify("session", err)
	}
	return &session{st: s, conn: conn}, nil
}

// Reset truncates the fixture table and reseeds it in one transaction.
func (s *Store) Reset(ctx context.Context, fixture []store.Item) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("reset", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return classify("reset", err)
	}
	insert := s.rebind("INSERT INTO items (id, name, price, deleted) VALUES (?, ?, ?, ?)")
	for _, it := range fixture {
		if _, err := dbtx.ExecContext(ctx, insert, it.ID, it.Name, it.Price, it.Deleted); err != nil {
			return classify("reset", err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return classify("reset", err)
	}
	return nil
}

// rebind converts ? placeholders to the driver's style.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type session struct {
	st   *Store
	conn *sql.Conn
	open *tx
}

func (s *session) Begin(ctx context.Context, level store.IsolationLevel) (store.Tx, error) {
	if s.conn == nil {
		return nil, store.NewStepError(store.CodeStepExecution, "begin", "session is closed", nil)
	}
	if s.open != nil && s.open.dbtx != nil {
		return nil, store.NewStepError(store.CodeStepExecution, "begin", "transaction already open on session", nil)
	}

	dbtx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: s.st.sqlLevel(level)})
	if err != nil {
		return nil, classify("begin", err)
	}

	t := &tx{st: s.st, sess: s, dbtx: dbtx}
	if s.st.driver == "pgx" {
		// Surface blocked row locks as SQLSTATE 55P03 instead of letting
		// the statement sit on the wire until the context expires.
		budget := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.st.timeout.Milliseconds())
		if _, err := dbtx.ExecContext(ctx, budget); err != nil {
			_ = dbtx.Rollback()
			return nil, classify("begin", err)
		}
	}
	s.open = t
	return t, nil
}

func (s *session) Close() error {
	if s.open != nil && s.open.dbtx != nil {
		_ = s.open.Rollback(context.Background())
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// sqlLevel maps contract levels onto database/sql levels per driver.
// mattn/go-sqlite3 rejects explicit levels, and SQLite is serializable
// anyway, so SQLite transactions run at the engine default.
func (s *Store) sqlLevel(level store.IsolationLevel) sql.IsolationLevel {
	if s.driver != "pgx" {
		return sql.LevelDefault
	}
	switch level {
	case store.ReadUncommitted:
		return sql.LevelReadUncommitted
	case store.RepeatableRead:
		return sql.LevelRepeatableRead
	case store.Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

type tx struct {
	st   *Store
	sess *session
	dbtx *sql.Tx
}

func (t *tx) guard(op string) error {
	if t.dbtx == nil {
		return store.NewStepError(store.CodeStepExecution, op, "transaction is not active", nil)
	}
	return nil
}

// budget bounds one statement's execution time.
func (t *tx) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.st.timeout)
}

func (t *tx) ReadPrice(ctx context.Context, id int64) (float64, error) {
	if err := t.guard("read"); err != nil {
		return 0, err
	}
	ctx, cancel := t.budget(ctx)
	defer cancel()

	var price float64
	q := t.st.rebind("SELECT price FROM items WHERE id = ?")
	if err := t.dbtx.QueryRowContext(ctx, q, id).Scan(&price); err != nil {
		return 0, classify("read", err)
	}
	return price, nil
}

func (t *tx) Count(ctx context.Context, pred store.Predicate) (int, error) {
	if err := t.guard("count"); err != nil {
		return 0, err
	}
	ctx, cancel := t.budget(ctx)
	defer cancel()

	var n int
	q := t.st.rebind("SELECT COUNT(*) FROM items WHERE price >= ? AND NOT deleted")
	if err := t.dbtx.QueryRowContext(ctx, q, pred.MinPrice).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (t *tx) UpdatePrice(ctx context.Context, id int64, delta float64) error {
	if err := t.guard("update"); err != nil {
		return err
	}
	ctx, cancel := t.budget(ctx)
	defer cancel()

	q := t.st.rebind("UPDATE items SET price = price + ? WHERE id = ?")
	res, err := t.dbtx.ExecContext(ctx, q, delta, id)
	if err != nil {
		return classify("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.NewStepError(store.CodeStepExecution, "update",
			fmt.Sprintf("row %d not found", id), nil)
	}
	return nil
}

func (t *tx) Insert(ctx context.Context, item store.Item) error {
	if err := t.guard("insert"); err != nil {
		return err
	}
	ctx, cancel := t.budget(ctx)
	defer cancel()

	var q string
	var args []any
	if item.ID == 0 {
		// Portable id assignment across both engines, inside the
		// transaction so it participates in conflict detection.
		q = t.st.rebind("INSERT INTO items (id, name, price, deleted) SELECT COALESCE(MAX(id), 0) + 1, ?, ?, ? FROM items")
		args = []any{item.Name, item.Price, item.Deleted}
	} else {
		q = t.st.rebind("INSERT INTO items (id, name, price, deleted) VALUES (?, ?, ?, ?)")
		args = []any{item.ID, item.Name, item.Price, item.Deleted}
	}
	if _, err := t.dbtx.ExecContext(ctx, q, args...); err != nil {
		return classify("insert", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.guard("commit"); err != nil {
		return err
	}
	err := t.dbtx.Commit()
	t.detach()
	if err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.dbtx == nil {
		return nil
	}
	_ = t.dbtx.Rollback()
	t.detach()
	return nil
}

func (t *tx) detach() {
	t.dbtx = nil
	if t.sess != nil && t.sess.open == t {
		t.sess.open = nil
	}
}

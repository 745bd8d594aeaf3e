// Package memstore is a deterministic in-memory MVCC implementation of
// the store contract.
//
// It exists because the harness tests need reproducible interleavings of
// two open transactions without a live database server. The engine keeps
// a version chain per fixture row, stamps versions with a logical commit
// clock, and implements the four isolation levels the way PostgreSQL
// does:
//
//   - READ_UNCOMMITTED is mapped to READ_COMMITTED; dirty reads are
//     never observable.
//   - READ_COMMITTED reads the latest committed version at each
//     statement.
//   - REPEATABLE_READ reads a transaction-wide snapshot and fails a
//     write whose row was updated by a commit after the snapshot
//     (first-updater-wins).
//   - SERIALIZABLE additionally validates the transaction's point and
//     predicate reads at commit time against everything committed since
//     its snapshot; an invalidated read fails the commit with a
//     serialization failure.
//
// Writers take per-row locks held until commit or rollback. A writer
// queued behind another transaction's lock waits at most the configured
// budget and then fails the statement with a lock timeout.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/tdowney/isolab/internal/store"
)

// DefaultLockWait bounds how long a writer blocks on another writer's
// row lock before the statement fails with CodeLockTimeout.
const DefaultLockWait = 200 * time.Millisecond

// version is one committed image of a row. endTS zero means current.
type version struct {
	item    store.Item
	beginTS uint64
	endTS   uint64
}

type row struct {
	versions []version
}

// writeRecord is one row image change inside a commit.
type writeRecord struct {
	id     int64
	before *store.Item // nil for inserts
	after  store.Item
}

// commitRecord is an entry in the commit log, used by serializable
// commit validation.
type commitRecord struct {
	ts     uint64
	txnID  uint64
	writes []writeRecord
}

// rowLock is an exclusive write lock. released is closed when the owner
// commits or rolls back, waking queued writers.
type rowLock struct {
	owner    uint64
	released chan struct{}
}

// Store is the in-memory MVCC store.
type Store struct {
	mu       sync.Mutex
	seq      uint64 // transaction IDs, snapshots and commit timestamps
	rows     btree.Map[int64, *row]
	locks    map[int64]*rowLock
	log      []commitRecord
	nextID   int64
	lockWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait overrides the lock wait budget. Tests use a small value
// so lock-timeout scenarios finish quickly.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) { s.lockWait = d }
}

// Open creates an empty store. Call Reset to seed the fixture.
func Open(opts ...Option) *Store {
	s := &Store{
		locks:    make(map[int64]*rowLock),
		nextID:   1,
		lockWait: DefaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session opens a new logical connection.
func (s *Store) Session(ctx context.Context) (store.Session, error) {
	return &session{st: s}, nil
}

// Reset replaces all rows with the fixture, discarding version history,
// locks and the commit log. Fixture rows become committed state.
func (s *Store) Reset(ctx context.Context, fixture []store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = btree.Map[int64, *row]{}
	s.locks = make(map[int64]*rowLock)
	s.log = nil
	s.nextID = 1

	s.seq++
	ts := s.seq
	for _, it := range fixture {
		if it.ID <= 0 {
			return store.NewStepError(store.CodeStepExecution, "reset",
				fmt.Sprintf("fixture row %q must declare a positive id", it.Name), nil)
		}
		if _, exists := s.rows.Get(it.ID); exists {
			return store.NewStepError(store.CodeStepExecution, "reset",
				fmt.Sprintf("duplicate fixture row id %d", it.ID), nil)
		}
		s.rows.Set(it.ID, &row{versions: []version{{item: it, beginTS: ts}}})
		if it.ID >= s.nextID {
			s.nextID = it.ID + 1
		}
	}
	return nil
}

// Close releases nothing; the store lives entirely on the heap.
func (s *Store) Close() error { return nil }

type session struct {
	st     *Store
	open   *tx
	closed bool
}

func (s *session) Begin(ctx context.Context, level store.IsolationLevel) (store.Tx, error) {
	if s.closed {
		return nil, store.NewStepError(store.CodeStepExecution, "begin", "session is closed", nil)
	}
	if s.open != nil && s.open.state == txActive {
		return nil, store.NewStepError(store.CodeStepExecution, "begin", "transaction already open on session", nil)
	}

	// PostgreSQL mapping: the weakest level never yields dirty reads.
	if level == store.ReadUncommitted {
		level = store.ReadCommitted
	}

	s.st.mu.Lock()
	s.st.seq++
	t := &tx{
		st:     s.st,
		sess:   s,
		id:     s.st.seq,
		level:  level,
		snapTS: s.st.seq,
		state:  txActive,
		writes: make(map[int64]store.Item),
	}
	s.st.mu.Unlock()

	s.open = t
	return t, nil
}

func (s *session) Close() error {
	if s.open != nil && s.open.state == txActive {
		_ = s.open.Rollback(context.Background())
	}
	s.closed = true
	return nil
}

type txState uint8

const (
	txActive txState = iota
	txCommitted
	txAborted
)

// tx is one open transaction. Pending writes stay in the writes map
// until commit; readSet and predReads feed serializable validation.
type tx struct {
	st     *Store
	sess   *session
	id     uint64
	level  store.IsolationLevel
	snapTS uint64
	state  txState

	writes     map[int64]store.Item
	writeOrder []int64
	inserts    map[int64]bool
	readSet    btree.Set[int64]
	predReads  []store.Predicate
	locks      []int64
}

func (t *tx) active(op string) error {
	if t.state != txActive {
		return store.NewStepError(store.CodeStepExecution, op, "transaction is not active", nil)
	}
	return nil
}

// readTS is the timestamp reads are served at: the transaction snapshot
// for snapshotted levels, the latest commit for READ_COMMITTED.
func (t *tx) readTS() uint64 {
	if t.level.Snapshotted() {
		return t.snapTS
	}
	return t.st.seq
}

// visibleItem resolves a row under the transaction's visibility rules.
// Own uncommitted writes win over committed versions. Caller holds st.mu.
func (t *tx) visibleItem(id int64) (store.Item, bool) {
	if it, ok := t.writes[id]; ok {
		return it, true
	}
	r, ok := t.st.rows.Get(id)
	if !ok {
		return store.Item{}, false
	}
	ts := t.readTS()
	for i := len(r.versions) - 1; i >= 0; i-- {
		v := r.versions[i]
		if v.beginTS <= ts && (v.endTS == 0 || v.endTS > ts) {
			return v.item, true
		}
	}
	return store.Item{}, false
}

func (t *tx) ReadPrice(ctx context.Context, id int64) (float64, error) {
	if err := t.active("read"); err != nil {
		return 0, err
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	if t.level == store.Serializable {
		t.readSet.Insert(id)
	}
	it, ok := t.visibleItem(id)
	if !ok {
		return 0, store.NewStepError(store.CodeStepExecution, "read",
			fmt.Sprintf("row %d not visible", id), nil)
	}
	return it.Price, nil
}

func (t *tx) Count(ctx context.Context, pred store.Predicate) (int, error) {
	if err := t.active("count"); err != nil {
		return 0, err
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	if t.level == store.Serializable {
		t.predReads = append(t.predReads, pred)
	}

	n := 0
	seen := make(map[int64]bool)
	t.st.rows.Scan(func(id int64, _ *row) bool {
		seen[id] = true
		if it, ok := t.visibleItem(id); ok && pred.Matches(it) {
			n++
		}
		return true
	})
	// Own inserted rows that are not in the committed index yet.
	for id, it := range t.writes {
		if !seen[id] && pred.Matches(it) {
			n++
		}
	}
	return n, nil
}

func (t *tx) UpdatePrice(ctx context.Context, id int64, delta float64) error {
	if err := t.active("update"); err != nil {
		return err
	}
	if err := t.st.acquireLock(ctx, t, id, "update"); err != nil {
		return err
	}

	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	// First-updater-wins: a snapshotted transaction may not overwrite a
	// row changed by a commit after its snapshot.
	if t.level.Snapshotted() {
		if cur, ok := t.st.currentCommitted(id); ok {
			if _, mine := t.writes[id]; !mine && cur.beginTS > t.snapTS {
				return store.NewStepError(store.CodeSerializationFailure, "update",
					fmt.Sprintf("row %d was updated by a concurrent transaction", id), nil)
			}
		}
	}

	it, ok := t.visibleItem(id)
	if !ok {
		return store.NewStepError(store.CodeStepExecution, "update",
			fmt.Sprintf("row %d not visible", id), nil)
	}
	it.Price += delta
	t.stage(id, it)
	return nil
}

func (t *tx) Insert(ctx context.Context, item store.Item) error {
	if err := t.active("insert"); err != nil {
		return err
	}

	t.st.mu.Lock()
	if item.ID == 0 {
		item.ID = t.st.nextID
		t.st.nextID++
	} else {
		if _, exists := t.st.rows.Get(item.ID); exists {
			t.st.mu.Unlock()
			return store.NewStepError(store.CodeStepExecution, "insert",
				fmt.Sprintf("row %d already exists", item.ID), nil)
		}
		if item.ID >= t.st.nextID {
			t.st.nextID = item.ID + 1
		}
	}
	t.st.mu.Unlock()

	// No waiter can hold a lock on a fresh id, but taking it keeps the
	// commit path uniform.
	if err := t.st.acquireLock(ctx, t, item.ID, "insert"); err != nil {
		return err
	}

	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	if t.inserts == nil {
		t.inserts = make(map[int64]bool)
	}
	t.inserts[item.ID] = true
	t.stage(item.ID, item)
	return nil
}

// stage records a pending row image, keeping first-write order for a
// deterministic commit apply. Caller holds st.mu.
func (t *tx) stage(id int64, it store.Item) {
	if _, ok := t.writes[id]; !ok {
		t.writeOrder = append(t.writeOrder, id)
	}
	t.writes[id] = it
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.active("commit"); err != nil {
		return err
	}

	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	if t.level == store.Serializable {
		if err := t.validateSerializable(); err != nil {
			t.finish(txAborted)
			return err
		}
	}

	t.st.seq++
	ts := t.st.seq
	rec := commitRecord{ts: ts, txnID: t.id}
	for _, id := range t.writeOrder {
		after := t.writes[id]
		var before *store.Item
		r, ok := t.st.rows.Get(id)
		if ok && len(r.versions) > 0 {
			if cur := &r.versions[len(r.versions)-1]; cur.endTS == 0 {
				b := cur.item
				before = &b
				cur.endTS = ts
			}
		}
		if !ok {
			r = &row{}
			t.st.rows.Set(id, r)
		}
		r.versions = append(r.versions, version{item: after, beginTS: ts})
		rec.writes = append(rec.writes, writeRecord{id: id, before: before, after: after})
	}
	if len(rec.writes) > 0 {
		t.st.log = append(t.st.log, rec)
	}

	t.finish(txCommitted)
	return nil
}

// validateSerializable checks the transaction's reads against every
// commit since its snapshot. Caller holds st.mu.
func (t *tx) validateSerializable() error {
	for _, rec := range t.st.log {
		if rec.ts <= t.snapTS || rec.txnID == t.id {
			continue
		}
		for _, w := range rec.writes {
			if t.readSet.Contains(w.id) {
				return store.NewStepError(store.CodeSerializationFailure, "commit",
					fmt.Sprintf("row %d read by this transaction was changed by a concurrent commit", w.id), nil)
			}
			for _, p := range t.predReads {
				if (w.before != nil && p.Matches(*w.before)) || p.Matches(w.after) {
					return store.NewStepError(store.CodeSerializationFailure, "commit",
						fmt.Sprintf("predicate %s read by this transaction was changed by a concurrent commit", p), nil)
				}
			}
		}
	}
	return nil
}

// Rollback discards pending writes and releases locks. Idempotent and,
// per the store contract, never fails.
func (t *tx) Rollback(ctx context.Context) error {
	if t.state != txActive {
		return nil
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	t.finish(txAborted)
	return nil
}

// finish releases locks and detaches from the session. Caller holds st.mu.
func (t *tx) finish(state txState) {
	for _, id := range t.locks {
		if l, ok := t.st.locks[id]; ok && l.owner == t.id {
			close(l.released)
			delete(t.st.locks, id)
		}
	}
	t.locks = nil
	t.writes = make(map[int64]store.Item)
	t.writeOrder = nil
	t.state = state
	if t.sess != nil && t.sess.open == t {
		t.sess.open = nil
	}
}

// currentCommitted returns the latest committed version of a row.
// Caller holds st.mu.
func (s *Store) currentCommitted(id int64) (version, bool) {
	r, ok := s.rows.Get(id)
	if !ok || len(r.versions) == 0 {
		return version{}, false
	}
	cur := r.versions[len(r.versions)-1]
	if cur.endTS != 0 {
		return version{}, false
	}
	return cur, true
}

// acquireLock takes the exclusive write lock on a row, waiting up to the
// store's lock budget for another transaction to release it.
func (s *Store) acquireLock(ctx context.Context, t *tx, id int64, op string) error {
	deadline := time.Now().Add(s.lockWait)
	s.mu.Lock()
	for {
		l, held := s.locks[id]
		if !held {
			s.locks[id] = &rowLock{owner: t.id, released: make(chan struct{})}
			t.locks = append(t.locks, id)
			s.mu.Unlock()
			return nil
		}
		if l.owner == t.id {
			s.mu.Unlock()
			return nil
		}
		released := l.released
		s.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return store.NewStepError(store.CodeLockTimeout, op,
				fmt.Sprintf("timed out waiting for write lock on row %d", id), nil)
		}
		timer := time.NewTimer(wait)
		select {
		case <-released:
			timer.Stop()
		case <-timer.C:
			return store.NewStepError(store.CodeLockTimeout, op,
				fmt.Sprintf("timed out waiting for write lock on row %d", id), nil)
		case <-ctx.Done():
			timer.Stop()
			return store.NewStepError(store.CodeLockTimeout, op,
				"canceled while waiting for write lock", ctx.Err())
		}
		s.mu.Lock()
	}
}

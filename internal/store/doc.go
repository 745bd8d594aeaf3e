// Package store defines the relational-store contract the anomaly harness
// drives: sessions that own one connection each, transactions opened at an
// explicit isolation level, and the small fixture-row operations the
// scenarios need (point read, predicate count, price update, insert).
//
// Two implementations live in subpackages:
//
//   - sqlstore speaks real SQL engines through database/sql (SQLite and
//     PostgreSQL drivers).
//   - memstore is a deterministic in-memory MVCC engine used by the
//     harness tests, where interleavings must be reproducible without a
//     live database server.
//
// Errors crossing the contract are classified as *StepError so the
// orchestrator can tell expected store outcomes (serialization failures,
// lock timeouts) from broken statements.
package store

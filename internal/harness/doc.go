// Package harness reproduces and suppresses the classic SQL transaction
// anomalies — dirty read, non-repeatable read, phantom read — by driving
// two transactions against a shared store under explicit isolation
// levels and a deterministic step order.
//
// # Model
//
// A Scenario is pure data: a fixture, actor roles with isolation levels,
// a totally ordered step list, and assertions over the recorded
// outcomes. The Runner is the sole scheduler. It dispatches steps one at
// a time in their declared order, so the statements of two logically
// concurrent transactions reach the store in a fixed, reproducible
// sequence. Concurrency exists only in that several actors hold open
// transactions at once; nothing ever races from the harness's point of
// view. Whatever interleaving the store then exhibits under the chosen
// isolation levels is the phenomenon under test.
//
// # Outcomes as data
//
// Serialization failures and lock timeouts are not crashes. A commit
// refused under SERIALIZABLE is a valid, even expected, demonstration
// outcome; the runner records it and carries on to the verdict. Only
// actor misuse (a harness bug) and broken statements abort a run — and
// even then every actor still ACTIVE is rolled back before Run returns.
//
// # Catalog
//
// The five canonical demonstrations ship as a built-in catalog:
// dirty-read-attempt, non-repeatable-read, repeatable-read-no-anomaly,
// phantom-read and serializable-no-phantom. Additional scenarios load
// from YAML files validated against an embedded CUE schema.
package harness

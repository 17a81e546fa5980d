// Package store provides SQLite-backed durable state for handoff.
//
// The store keeps:
//   - Operations: every confirmable operation, archived on terminal status
//   - Signals: the log of completion claims received per operation
//   - Applied Outcomes: the permanent effect of a confirmed operation
//   - Local app state touched by outcomes: sessions, accounts, balances,
//     transactions
//
// # Exactly-Once Outcomes
//
// applied_outcomes.operation_id is the PRIMARY KEY. ApplyOutcome runs the
// kind-specific side effects and the INSERT ... ON CONFLICT DO NOTHING in one
// transaction, so a second call for the same operation is a no-op that
// returns the stored outcome.
//
// # Logical Time
//
// Rows are stamped with seq from the store's logical clock, resumed from the
// highest persisted seq on Open. Queries order by seq ASC, id ASC.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store

// Package apply turns confirmed operations into local state.
//
// Each applier runs its writes inside store.ApplyOutcome, so the side
// effects and the applied_outcomes row commit together and happen at most
// once per operation id. A second call for the same operation returns the
// recorded outcome without touching the ledger.
//
// Results the backend reports as already processed are applied in adopt
// mode: the local state reflects the backend's answer without asking the
// backend to act again. Local ledger rows are still written once, keyed by
// operation id and transaction id.
//
// Network calls an applier needs, such as the sign-in session exchange,
// happen in Prepare, outside the coordinator loop.
//
// Errors from the store are reported as transient so the coordinator
// returns the operation to pending; missing or malformed outcome data is
// reported as rejected.
package apply

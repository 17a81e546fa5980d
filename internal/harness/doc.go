// Package harness runs reconciliation scenarios against a real coordinator.
//
// A scenario drives one coordinator kind through external events: deep
// links, embedded-browser navigations, poll ticks, backend answers, clock
// advances and user cancels. The harness waits for the coordinator to settle
// after every step, then asserts on the trace and the archived operations.
//
// # Scenario Format
//
//	name: deep_link_confirms
//	description: "What this scenario validates"
//	kind: payment
//	timeout: 5m
//	poll_interval: 3s
//	seed:
//	  reference: cs_1
//	steps:
//	  - start: {}
//	  - deep_link: "dateapp://payment/success?session_id=cs_1&cid=op"
//	  - respond:
//	      verified: true
//	      outcome: { accountId: acct-1, amountMinor: 500, currency: USD }
//	assertions:
//	  - type: final_status
//	    status: confirmed
//	  - type: apply_count
//	    count: 1
//
// # Assertion Types
//
//   - final_status: an operation ended in the given status
//   - verify_calls: the backend was asked exactly N times
//   - apply_count: N outcomes were applied for the kind
//   - trace_contains: an event matching the subset was recorded
//   - trace_count: exactly N events match the subset
//   - navigation: the n-th navigate step got allow or intercept
//
// # Determinism
//
// Every run uses a fake clock starting at Epoch, fixed correlation tokens
// ("op", "op-2", ...), a scripted backend whose calls are held until a
// respond step answers them, and an in-memory SQLite store. The clock is
// advanced one poll tick or deadline at a time, so traces are identical
// across runs and can be compared with golden files.
package harness

// Package reconcile implements exactly-once confirmation of operations that
// complete outside the process.
//
// A Coordinator owns at most one pending or verifying operation of one
// kind. Outcome channel adapters (deep link, embedded browser, polling)
// report unverified completion claims; the first plausible claim triggers
// one authoritative verification call, and a confirmed result runs the
// Applier once.
//
// # State Machine
//
//	idle → pending → verifying → confirmed | failed | expired | cancelled
//
// verifying returns to pending on a transient failure so a later signal can
// retry. Starting a new operation of the same kind cancels the current one.
//
// # Single Writer
//
// Every transition happens in Run's goroutine. Adapters, verification
// goroutines and the timeout supervisor only enqueue events, and a result
// for an operation that is no longer current is discarded. Trace events are
// stamped from a logical Sequencer, never from the wall clock.
//
// # Time
//
// The timeout supervisor and CreatedAt use an injected k8s.io/utils/clock
// Clock so tests can step time with a FakeClock.
package reconcile

// Package testutil provides test doubles shared by the coordinator, harness
// and CLI tests: a verifier whose calls block until answered, an in-memory
// guarded applier, and a trace log that can be waited on.
package testutil

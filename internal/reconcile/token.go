package reconcile

import (
	"sync"

	"github.com/google/uuid"
)

// TokenIssuer mints correlation tokens for new operations.
// Implemented by UUIDv7Issuer (production) and FixedIssuer (tests).
type TokenIssuer interface {
	Issue() string
}

// UUIDv7Issuer mints time-sortable UUIDv7 correlation tokens.
//
// The embedded timestamp keeps archived operations and traces sortable by
// creation time. Safe for concurrent use.
type UUIDv7Issuer struct{}

// Issue returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Issuer) Issue() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedIssuer returns predetermined tokens in order, for deterministic
// tests and golden traces.
type FixedIssuer struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedIssuer creates an issuer that returns tokens in order.
//
//	iss := NewFixedIssuer("op-1", "op-2")
//	iss.Issue() // "op-1"
//	iss.Issue() // "op-2"
//	iss.Issue() // panic: all tokens exhausted
func NewFixedIssuer(tokens ...string) *FixedIssuer {
	return &FixedIssuer{tokens: tokens}
}

// Issue returns the next predetermined token.
//
// Panics if all tokens have been consumed, which means a test started more
// operations than it declared.
func (f *FixedIssuer) Issue() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idx >= len(f.tokens) {
		panic("FixedIssuer: all tokens exhausted")
	}
	token := f.tokens[f.idx]
	f.idx++
	return token
}

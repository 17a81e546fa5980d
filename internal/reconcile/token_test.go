package reconcile

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Issuer_Format(t *testing.T) {
	token := UUIDv7Issuer{}.Issue()

	require.Len(t, token, 36)
	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Issuer_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token := UUIDv7Issuer{}.Issue()
		assert.False(t, seen[token], "duplicate token %s", token)
		seen[token] = true
	}
}

func TestFixedIssuer_InOrder(t *testing.T) {
	iss := NewFixedIssuer("op-1", "op-2")

	assert.Equal(t, "op-1", iss.Issue())
	assert.Equal(t, "op-2", iss.Issue())
	assert.Panics(t, func() { iss.Issue() })
}

func TestSequencer_Monotonic(t *testing.T) {
	s := NewSequencer()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())
}

func TestAttemptBudget(t *testing.T) {
	b := newAttemptBudget(2)
	require.Nil(t, b.Take())
	require.Nil(t, b.Take())

	oe := b.Take()
	require.NotNil(t, oe)
	assert.Equal(t, CodeAttemptsExhausted, oe.Code)
	assert.False(t, oe.Transient())
	assert.Equal(t, 2, b.Used())

	unlimited := newAttemptBudget(0)
	for i := 0; i < 100; i++ {
		require.Nil(t, unlimited.Take())
	}
}

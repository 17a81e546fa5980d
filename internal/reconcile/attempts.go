package reconcile

// DefaultMaxAttempts bounds verification calls per operation.
// At the default 3s poll interval this covers about a minute of failures.
const DefaultMaxAttempts = 20

// attemptBudget counts verification attempts for one operation.
//
// Transient failures return the operation to pending, so without a budget a
// misbehaving backend could be polled until the timeout fires. The budget
// turns that into a prompt ATTEMPTS_EXHAUSTED failure.
type attemptBudget struct {
	limit int
	used  int
}

func newAttemptBudget(limit int) *attemptBudget {
	return &attemptBudget{limit: limit}
}

// Take consumes one attempt. Returns ATTEMPTS_EXHAUSTED, consuming nothing,
// once every attempt has been used. A limit <= 0 disables the budget.
func (b *attemptBudget) Take() *OperationError {
	if b.limit > 0 && b.used >= b.limit {
		return NewAttemptsExhaustedError(b.limit)
	}
	b.used++
	return nil
}

// Used returns the number of attempts taken.
func (b *attemptBudget) Used() int {
	return b.used
}

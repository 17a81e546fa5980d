package testutil

import (
	"context"
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// RecordingApplier is an in-memory applier that counts calls and effects.
//
// Like the real appliers it is guarded per operation id: the first
// successful call records an outcome and counts as one effect; later calls
// return the stored outcome. Fail queues errors for the next calls.
type RecordingApplier struct {
	mu       sync.Mutex
	calls    map[string]int
	outcomes map[string]ir.AppliedOutcome
	failures []error
}

// NewRecordingApplier creates an empty applier.
func NewRecordingApplier() *RecordingApplier {
	return &RecordingApplier{
		calls:    make(map[string]int),
		outcomes: make(map[string]ir.AppliedOutcome),
	}
}

// Apply implements the coordinator's Applier.
func (a *RecordingApplier) Apply(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.AppliedOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls[op.ID]++
	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return ir.AppliedOutcome{}, err
	}
	if existing, ok := a.outcomes[op.ID]; ok {
		return existing, nil
	}

	out := ir.AppliedOutcome{
		OperationID: op.ID,
		Kind:        op.Kind,
		Mode:        ir.ModeFor(result),
		Destination: "done",
		Data:        result.OutcomeData,
		Seq:         int64(len(a.outcomes) + 1),
	}
	a.outcomes[op.ID] = out
	return out, nil
}

// Fail makes the next len(errs) calls return these errors in order.
func (a *RecordingApplier) Fail(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, errs...)
}

// Calls returns how many times Apply ran for an operation.
func (a *RecordingApplier) Calls(operationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[operationID]
}

// Effects returns how many outcomes were recorded in total.
func (a *RecordingApplier) Effects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// Outcome returns the recorded outcome for an operation.
func (a *RecordingApplier) Outcome(operationID string) (ir.AppliedOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, ok := a.outcomes[operationID]
	return out, ok
}

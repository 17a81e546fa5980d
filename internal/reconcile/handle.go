package reconcile

import (
	"context"
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// Result is the terminal report for one operation.
//
// Outcome is set only when Operation.Status is confirmed. Err is nil for
// confirmed operations and an *OperationError otherwise.
type Result struct {
	Operation ir.Operation
	Outcome   *ir.AppliedOutcome
	Err       error
}

// Handle tracks one started operation.
type Handle struct {
	op     ir.Operation
	coord  *Coordinator
	done   chan struct{}
	once   sync.Once
	result Result
}

func newHandle(op ir.Operation, c *Coordinator) *Handle {
	return &Handle{op: op, coord: c, done: make(chan struct{})}
}

// Operation returns the operation as it was when started.
func (h *Handle) Operation() ir.Operation {
	return h.op
}

// ID returns the operation's correlation token.
func (h *Handle) ID() string {
	return h.op.ID
}

// Done is closed when the operation reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal result. Only valid after Done is closed.
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Wait blocks until the operation is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel dismisses this operation. It has no effect once the operation is
// terminal or has been superseded.
func (h *Handle) Cancel() {
	h.coord.cancelOperation(h.op.ID, "dismissed by user")
}

func (h *Handle) complete(r Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

package harness

import "github.com/roach88/handoff/internal/ir"

// Navigation is the interceptor's answer to one navigate step.
type Navigation struct {
	URL      string `json:"url"`
	Decision string `json:"decision"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Trace contains every coordinator decision in order.
	// Used for trace assertions and golden comparison.
	Trace []ir.TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Operations holds the archived state of every started operation,
	// in start order.
	Operations []ir.Operation `json:"operations"`

	// Navigations records each navigate step's decision.
	Navigations []Navigation `json:"navigations,omitempty"`

	// VerifyCalls is the number of backend verification calls.
	VerifyCalls int `json:"verify_calls"`

	// Applied is the number of applied outcomes for the kind.
	Applied int `json:"applied"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []ir.TraceEvent{},
		Errors:     []string{},
		Operations: []ir.Operation{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Operation returns the operation with id, or the last started one if id
// is empty.
func (r *Result) Operation(id string) (ir.Operation, bool) {
	if len(r.Operations) == 0 {
		return ir.Operation{}, false
	}
	if id == "" {
		return r.Operations[len(r.Operations)-1], true
	}
	for _, op := range r.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return ir.Operation{}, false
}

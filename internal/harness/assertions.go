package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/store"
)

// AssertionContext provides access to the store for state assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Kind  ir.Kind
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []ir.TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, formatEvent(ev))
		}
	}
	return buf.String()
}

func formatEvent(ev ir.TraceEvent) string {
	parts := []string{ev.Type, ev.OperationID, string(ev.Status)}
	if ev.Source != "" {
		parts = append(parts, "source="+string(ev.Source))
	}
	if ev.Reference != "" {
		parts = append(parts, "ref="+ev.Reference)
	}
	if ev.Detail != "" {
		parts = append(parts, "detail="+ev.Detail)
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertFinalStatus:
		return assertFinalStatus(result, a)
	case AssertVerifyCalls:
		return assertCount(result, AssertVerifyCalls, *a.Count, result.VerifyCalls)
	case AssertApplyCount:
		return assertApplyCount(result, a, actx)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertNavigation:
		return assertNavigation(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertFinalStatus(result *Result, a Assertion) error {
	op, ok := result.Operation(a.Operation)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("operation %q with status %s", a.Operation, a.Status),
			Actual:   "operation not started",
		}
	}
	if op.Status != a.Status {
		actual := string(op.Status)
		if op.Error != "" {
			actual += " (" + op.Error + ")"
		}
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s ended %s", op.ID, a.Status),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCount(result *Result, typ string, want, got int) error {
	if want != got {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertApplyCount reads the store rather than the result so the count
// reflects committed outcomes only.
func assertApplyCount(result *Result, a Assertion, actx *AssertionContext) error {
	got := result.Applied
	if actx != nil && actx.Store != nil {
		n, err := actx.Store.CountOutcomes(actx.Ctx, actx.Kind)
		if err != nil {
			return fmt.Errorf("count outcomes: %w", err)
		}
		got = n
	}
	return assertCount(result, AssertApplyCount, *a.Count, got)
}

// assertTraceContains checks that at least one event matches.
func assertTraceContains(trace []ir.TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.Event.matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Event.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []ir.TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.Event.matches(ev) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d x %s", *a.Count, a.Event),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertNavigation(result *Result, a Assertion) error {
	if a.Index < 0 || a.Index >= len(result.Navigations) {
		return &AssertionError{
			Type:     AssertNavigation,
			Expected: fmt.Sprintf("navigate step %d", a.Index),
			Actual:   fmt.Sprintf("%d navigate steps ran", len(result.Navigations)),
		}
	}
	nav := result.Navigations[a.Index]
	if nav.Decision != a.Decision {
		return &AssertionError{
			Type:     AssertNavigation,
			Expected: fmt.Sprintf("%s for %s", a.Decision, nav.URL),
			Actual:   nav.Decision,
		}
	}
	return nil
}

func (m *EventMatch) matches(ev ir.TraceEvent) bool {
	return (m.Type == "" || m.Type == ev.Type) &&
		(m.Operation == "" || m.Operation == ev.OperationID) &&
		(m.Status == "" || m.Status == string(ev.Status)) &&
		(m.Source == "" || m.Source == string(ev.Source)) &&
		(m.Detail == "" || m.Detail == ev.Detail)
}

// String describes the match for failure messages.
func (m *EventMatch) String() string {
	var parts []string
	for _, f := range [...]struct{ name, value string }{
		{"type", m.Type},
		{"operation", m.Operation},
		{"status", m.Status},
		{"source", m.Source},
		{"detail", m.Detail},
	} {
		if f.value != "" {
			parts = append(parts, f.name+"="+f.value)
		}
	}
	if len(parts) == 0 {
		return "any event"
	}
	return "event " + strings.Join(parts, " ")
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/handoff/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []ir.TraceEvent
	Operations   []ir.Operation
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":          ev.Seq,
			"type":         ev.Type,
			"operation_id": ev.OperationID,
			"status":       string(ev.Status),
		}
		if ev.Source != "" {
			m["source"] = string(ev.Source)
		}
		if ev.Reference != "" {
			m["reference"] = ev.Reference
		}
		if ev.Detail != "" {
			m["detail"] = ev.Detail
		}
		trace[i] = m
	}

	ops := make([]any, len(s.Operations))
	for i, op := range s.Operations {
		m := map[string]any{
			"id":       op.ID,
			"status":   string(op.Status),
			"attempts": op.Attempts,
		}
		if op.ExternalReference != "" {
			m["reference"] = op.ExternalReference
		}
		ops[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"operations":    ops,
	}
}

// Snapshot renders a result's trace as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Operations:   result.Operations,
	}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect assertion errors.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

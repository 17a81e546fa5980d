package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/ir"
)

const minimalScenario = `
name: minimal
description: Minimal scenario
kind: auth
steps:
  - start: {}
assertions:
  - type: final_status
    status: pending
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, ir.KindAuth, s.Kind)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, []string{StepStart}, s.Steps[0].Names())
	assert.Equal(t, ir.StatusPending, s.Assertions[0].Status)

	assert.Equal(t, defaultTimeout, s.timeout())
	assert.Equal(t, defaultPollInterval, s.pollInterval())
	assert.Nil(t, s.MaxAttempts)
}

func TestParseScenario_AllSteps(t *testing.T) {
	src := `
name: all_steps
description: Every step kind
kind: payment
correlation_token: cid
timeout: 40s
poll_interval: 7s
max_attempts: 0
seed:
  reference: cs_1
  metadata:
    account_id: acct-1
steps:
  - start: {}
  - deep_link: "dateapp://payment/success?cid=cid"
  - navigate: "https://return.dateapp.example/payment/cancel"
  - tick: true
  - respond:
      verified: true
      outcome:
        amountMinor: 100
  - advance: 10s
  - cancel: true
assertions:
  - type: verify_calls
    count: 1
`
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)

	var names []string
	for _, step := range s.Steps {
		names = append(names, step.Names()...)
	}
	assert.Equal(t, []string{
		StepStart, StepDeepLink, StepNavigate, StepTick, StepRespond, StepAdvance, StepCancel,
	}, names)

	require.NotNil(t, s.MaxAttempts)
	assert.Equal(t, 0, *s.MaxAttempts)
	assert.Equal(t, "acct-1", s.Seed.Metadata["account_id"])
	assert.Equal(t, 100, s.Steps[4].Respond.Outcome["amountMinor"])
	assert.Equal(t, 1, s.starts())
}

func TestScenarioToken(t *testing.T) {
	s := &Scenario{}
	assert.Equal(t, "op", s.token(1))
	assert.Equal(t, "op-2", s.token(2))

	s.CorrelationToken = "state"
	assert.Equal(t, "state", s.token(1))
	assert.Equal(t, "state-3", s.token(3))
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "description is required",
		},
		{
			name:    "unknown kind",
			yaml:    "name: n\ndescription: d\nkind: refund\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "kind must be one of",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nkind: auth\nflow: []\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "field flow not found",
		},
		{
			name:    "bad timeout",
			yaml:    "name: n\ndescription: d\nkind: auth\ntimeout: soon\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "timeout",
		},
		{
			name:    "zero poll interval",
			yaml:    "name: n\ndescription: d\nkind: auth\npoll_interval: 0s\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "poll_interval must be positive",
		},
		{
			name:    "negative budget",
			yaml:    "name: n\ndescription: d\nkind: auth\nmax_attempts: -1\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "max_attempts must be non-negative",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: []\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: []",
			wantErr: "assertions list is required",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "steps[0]: one of",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{tick: true, cancel: true}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "only one action per step",
		},
		{
			name:    "negative advance",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{advance: -1s}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "steps[0].advance must be positive",
		},
		{
			name:    "unknown respond error",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{respond: {error: timeout}}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: `unknown error "timeout"`,
		},
		{
			name:    "respond error with result",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{respond: {error: transient, verified: true}}]\nassertions: [{type: verify_calls, count: 0}]",
			wantErr: "error excludes",
		},
		{
			name:    "final_status without status",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: final_status}]",
			wantErr: "status is required for final_status",
		},
		{
			name:    "verify_calls without count",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: verify_calls}]",
			wantErr: "count is required for verify_calls",
		},
		{
			name:    "trace_count without event",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: trace_count, count: 1}]",
			wantErr: "event is required for trace_count",
		},
		{
			name:    "navigation without decision",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: navigation}]",
			wantErr: "decision is required for navigation",
		},
		{
			name:    "negative count",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: apply_count, count: -1}]",
			wantErr: "count must be non-negative",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nkind: auth\nsteps: [{cancel: true}]\nassertions: [{type: final_state}]",
			wantErr: `unknown assertion type "final_state"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadScenarios_SortedByPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		content := minimalScenario
		if name == "notes.txt" {
			content = "not a scenario"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	scenarios, paths, err := LoadScenarios(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)
}

func TestLoadScenarios_ReportsPath(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: only"), 0o644))

	_, _, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}

func TestLoadScenarios_Testdata(t *testing.T) {
	scenarios, _, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	assert.NotEmpty(t, scenarios)
}

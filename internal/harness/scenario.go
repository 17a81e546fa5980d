package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/handoff/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario drives one coordinator through a sequence of external events
// and asserts on the resulting trace and final operation states.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Kind selects the coordinator under test: auth or payment.
	Kind ir.Kind `yaml:"kind"`

	// CorrelationToken is the id of the first started operation. Later
	// starts get "<token>-2", "<token>-3", and so on.
	// Defaults to "op".
	CorrelationToken string `yaml:"correlation_token,omitempty"`

	// Timeout is the time-in-flight bound. Defaults to 5m.
	Timeout string `yaml:"timeout,omitempty"`

	// PollInterval is the status poll period. Defaults to 3s.
	PollInterval string `yaml:"poll_interval,omitempty"`

	// MaxAttempts bounds verifications per operation. Nil keeps the
	// coordinator default; 0 disables the budget.
	MaxAttempts *int `yaml:"max_attempts,omitempty"`

	// Seed is the default seed for start steps.
	Seed SeedSpec `yaml:"seed,omitempty"`

	// Steps are executed in order. Each waits until the coordinator has
	// settled before the next one runs.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedSpec is the caller context for a start step.
type SeedSpec struct {
	Reference string            `yaml:"reference,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Start begins an operation, superseding any in flight.
	Start *SeedSpec `yaml:"start,omitempty"`

	// DeepLink delivers an OS activation URL.
	DeepLink string `yaml:"deep_link,omitempty"`

	// Navigate reports an embedded-browser navigation.
	Navigate string `yaml:"navigate,omitempty"`

	// Tick advances the clock to the next poll tick.
	Tick bool `yaml:"tick,omitempty"`

	// Respond answers the oldest verification call still held.
	Respond *RespondStep `yaml:"respond,omitempty"`

	// Advance moves the clock forward by a duration, firing every poll
	// tick and deadline on the way.
	Advance string `yaml:"advance,omitempty"`

	// Cancel dismisses the current operation.
	Cancel bool `yaml:"cancel,omitempty"`
}

// Step names.
const (
	StepStart    = "start"
	StepDeepLink = "deep_link"
	StepNavigate = "navigate"
	StepTick     = "tick"
	StepRespond  = "respond"
	StepAdvance  = "advance"
	StepCancel   = "cancel"
)

// Names returns the names of the fields set on the step.
func (s Step) Names() []string {
	var names []string
	if s.Start != nil {
		names = append(names, StepStart)
	}
	if s.DeepLink != "" {
		names = append(names, StepDeepLink)
	}
	if s.Navigate != "" {
		names = append(names, StepNavigate)
	}
	if s.Tick {
		names = append(names, StepTick)
	}
	if s.Respond != nil {
		names = append(names, StepRespond)
	}
	if s.Advance != "" {
		names = append(names, StepAdvance)
	}
	if s.Cancel {
		names = append(names, StepCancel)
	}
	return names
}

// RespondStep is the backend's answer to a held verification call.
type RespondStep struct {
	Verified         bool                   `yaml:"verified,omitempty"`
	AlreadyProcessed bool                   `yaml:"already_processed,omitempty"`
	Outcome          map[string]interface{} `yaml:"outcome,omitempty"`

	// Error fails the call instead: transient, rejected or conflict.
	Error string `yaml:"error,omitempty"`
}

// Respond error names.
const (
	RespondTransient = "transient"
	RespondRejected  = "rejected"
	RespondConflict  = "conflict"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_status": an operation ended in Status
	// - "verify_calls": the backend was asked Count times
	// - "apply_count": Count outcomes were applied for the kind
	// - "trace_contains": an event matching Event was recorded
	// - "trace_count": exactly Count events match Event
	// - "navigation": the Index-th navigate step got Decision
	Type string `yaml:"type"`

	// Operation selects the operation for final_status. Defaults to the
	// last started operation.
	Operation string `yaml:"operation,omitempty"`

	// Status is the expected status (final_status).
	Status ir.Status `yaml:"status,omitempty"`

	// Count is the expected number (verify_calls, apply_count, trace_count).
	Count *int `yaml:"count,omitempty"`

	// Event selects trace events (trace_contains, trace_count).
	// Subset match: only specified fields are compared.
	Event *EventMatch `yaml:"event,omitempty"`

	// Index is the zero-based navigate step (navigation).
	Index int `yaml:"index,omitempty"`

	// Decision is the expected interceptor decision (navigation).
	Decision string `yaml:"decision,omitempty"`
}

// EventMatch selects trace events. Empty fields match anything.
type EventMatch struct {
	Type      string `yaml:"type,omitempty"`
	Operation string `yaml:"operation,omitempty"`
	Status    string `yaml:"status,omitempty"`
	Source    string `yaml:"source,omitempty"`
	Detail    string `yaml:"detail,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalStatus   = "final_status"
	AssertVerifyCalls   = "verify_calls"
	AssertApplyCount    = "apply_count"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertNavigation    = "navigation"
)

// Scenario defaults.
const (
	DefaultCorrelationToken = "op"
	defaultTimeout          = 5 * time.Minute
	defaultPollInterval     = 3 * time.Second
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by path.
func LoadScenarios(dir string) ([]*Scenario, []string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, paths, nil
}

// timeout returns the parsed timeout or the default.
func (s *Scenario) timeout() time.Duration {
	return durationOr(s.Timeout, defaultTimeout)
}

// pollInterval returns the parsed poll interval or the default.
func (s *Scenario) pollInterval() time.Duration {
	return durationOr(s.PollInterval, defaultPollInterval)
}

// token returns the correlation id of the n-th (1-based) start.
func (s *Scenario) token(n int) string {
	base := s.CorrelationToken
	if base == "" {
		base = DefaultCorrelationToken
	}
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// starts counts the start steps.
func (s *Scenario) starts() int {
	n := 0
	for _, step := range s.Steps {
		if step.Start != nil {
			n++
		}
	}
	return n
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if !s.Kind.Valid() {
		return fmt.Errorf("kind must be one of %v, got %q", ir.Kinds, s.Kind)
	}

	for _, f := range [...]struct{ name, value string }{
		{"timeout", s.Timeout},
		{"poll_interval", s.PollInterval},
	} {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
	}

	if s.MaxAttempts != nil && *s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	names := step.Names()
	switch len(names) {
	case 0:
		return fmt.Errorf("steps[%d]: one of start, deep_link, navigate, tick, respond, advance, cancel is required", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: only one action per step, got %v", index, names)
	}

	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d].advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d].advance must be positive", index)
		}
	}

	if r := step.Respond; r != nil {
		switch r.Error {
		case "", RespondTransient, RespondRejected, RespondConflict:
		default:
			return fmt.Errorf("steps[%d].respond: unknown error %q", index, r.Error)
		}
		if r.Error != "" && (r.Verified || r.AlreadyProcessed || r.Outcome != nil) {
			return fmt.Errorf("steps[%d].respond: error excludes verified, already_processed and outcome", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for final_status", index)
		}
	case AssertVerifyCalls, AssertApplyCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
	case AssertTraceContains:
		if a.Event == nil {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == nil {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
	case AssertNavigation:
		if a.Decision == "" {
			return fmt.Errorf("assertions[%d]: decision is required for navigation", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/roach88/handoff/internal/apply"
	"github.com/roach88/handoff/internal/channel"
	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
	"github.com/roach88/handoff/internal/store"
	"github.com/roach88/handoff/internal/testutil"
)

// Epoch is the fake clock's start time.
var Epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// stepTimeout bounds how long the harness waits for the coordinator to
// settle after one step. Only a coordinator bug can exhaust it.
const stepTimeout = 5 * time.Second

// Harness is the test execution engine.
// It runs one scenario against a real coordinator, with a fake clock,
// fixed correlation tokens, a scripted backend and an in-memory store.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	clock    *clocktesting.FakeClock
	verifier *testutil.ScriptedVerifier
	trace    *testutil.TraceLog
	coord    *reconcile.Coordinator
	router   *channel.DeepLinkRouter
	browser  *channel.NavigationInterceptor
	ticks    chan bool
	logger   *slog.Logger

	timeout  time.Duration
	interval time.Duration

	started  []string
	pending  []*testutil.PendingVerify
	accepted int
	nextTick time.Time
	deadline time.Time
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible traces.
//
// Execution flow:
// 1. Wire a coordinator with the deep-link, browser and poll channels
// 2. Execute steps, settling the coordinator after each one
// 3. Snapshot the trace and archived operations
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(scenario, st)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(runCtx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Names()[0], err)
		}
	}

	if err := h.snapshot(runCtx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: runCtx, Kind: scenario.Kind}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, st *store.Store) *Harness {
	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    clocktesting.NewFakeClock(Epoch),
		verifier: testutil.NewScriptedVerifier(),
		trace:    testutil.NewTraceLog(),
		router:   channel.NewDeepLinkRouter(),
		browser:  channel.NewNavigationInterceptor(channel.DefaultBrowser(scenario.Kind)),
		ticks:    make(chan bool, 64),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		timeout:  scenario.timeout(),
		interval: scenario.pollInterval(),
	}
	h.router.Register(scenario.Kind, channel.DefaultDeepLink(scenario.Kind))

	poller := channel.NewPoller(h.interval,
		channel.WithPollClock(h.clock),
		channel.WithTickHook(func(emitted bool) {
			select {
			case h.ticks <- emitted:
			default:
			}
		}),
	)

	tokens := make([]string, 0, scenario.starts())
	for i := 1; i <= scenario.starts(); i++ {
		tokens = append(tokens, scenario.token(i))
	}

	var applier reconcile.Applier
	switch scenario.Kind {
	case ir.KindAuth:
		applier = apply.NewAuth(st, nil)
	case ir.KindPayment:
		applier = apply.NewPayment(st)
	}

	opts := []reconcile.Option{
		reconcile.WithClock(h.clock),
		reconcile.WithTimeout(h.timeout),
		reconcile.WithIssuer(reconcile.NewFixedIssuer(tokens...)),
		reconcile.WithRecorder(st),
		reconcile.WithTrace(h.trace.Record),
	}
	if scenario.MaxAttempts != nil {
		opts = append(opts, reconcile.WithMaxAttempts(*scenario.MaxAttempts))
	}

	adapters := []reconcile.Adapter{
		channel.NewDeepLinkAdapter(h.router, scenario.Kind),
		h.browser,
		poller,
	}
	h.coord = reconcile.New(scenario.Kind, h.verifier, applier, adapters, opts...)
	return h
}

// execute runs one step and waits until the coordinator has settled.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	h.logger.Info("executing step", "step", index, "action", step.Names()[0])

	switch {
	case step.Start != nil:
		return h.start(ctx, *step.Start)

	case step.DeepLink != "":
		h.router.Dispatch(step.DeepLink)
		return h.settle(ctx)

	case step.Navigate != "":
		decision := h.browser.Navigate(step.Navigate)
		result.Navigations = append(result.Navigations, Navigation{URL: step.Navigate, Decision: decision.String()})
		return h.settle(ctx)

	case step.Tick:
		if !h.inFlight() {
			h.clock.Step(h.interval)
			return nil
		}
		return h.advanceTo(ctx, h.nextTick)

	case step.Respond != nil:
		return h.respond(ctx, *step.Respond)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		return h.advanceTo(ctx, h.clock.Now().Add(d))

	case step.Cancel:
		h.coord.Cancel()
		return h.settle(ctx)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) start(ctx context.Context, spec SeedSpec) error {
	seed := ir.Seed{
		ExternalReference: h.scenario.Seed.Reference,
		Metadata:          h.scenario.Seed.Metadata,
	}
	if spec.Reference != "" {
		seed.ExternalReference = spec.Reference
	}
	if spec.Metadata != nil {
		seed.Metadata = spec.Metadata
	}

	handle, err := h.coord.Start(ctx, seed)
	if err != nil {
		return err
	}
	now := h.clock.Now()
	h.started = append(h.started, handle.ID())
	h.nextTick = now.Add(h.interval)
	h.deadline = now.Add(h.timeout)
	return h.settle(ctx)
}

// settle processes everything queued so far and takes hold of any
// verification call the coordinator started.
func (h *Harness) settle(ctx context.Context) error {
	if err := h.coord.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	accepted := h.trace.Count(isAccepted)
	for ; h.accepted < accepted; h.accepted++ {
		p, err := h.verifier.Next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for verification call: %w", err)
		}
		h.pending = append(h.pending, p)
	}
	return nil
}

func (h *Harness) respond(ctx context.Context, r RespondStep) error {
	if len(h.pending) == 0 {
		return errors.New("no verification call is held")
	}
	p := h.pending[0]
	h.pending = h.pending[1:]
	opID := p.Request.CorrelationID

	// A call for a superseded or finished operation was already cancelled;
	// its answer is dropped.
	live := h.coord.Status(opID) == ir.StatusVerifying
	before := h.trace.Count(verificationOf(opID))

	if r.Error != "" {
		p.Fail(respondError(r.Error))
	} else {
		outcome, err := convertToIRObject(r.Outcome)
		if err != nil {
			return fmt.Errorf("outcome: %w", err)
		}
		p.Respond(ir.VerificationResult{
			Verified:         r.Verified,
			AlreadyProcessed: r.AlreadyProcessed,
			OutcomeData:      outcome,
		})
	}

	if !live {
		return nil
	}
	if err := h.trace.WaitFor(ctx, before+1, verificationOf(opID)); err != nil {
		return fmt.Errorf("waiting for verification result: %w", err)
	}
	return h.settle(ctx)
}

// advanceTo moves the clock to target one event at a time so each poll tick
// and the deadline are observed in order.
func (h *Harness) advanceTo(ctx context.Context, target time.Time) error {
	for {
		next, tick, deadline := target, false, false
		if h.inFlight() {
			if !h.nextTick.After(next) {
				next, tick = h.nextTick, true
			}
			if !h.deadline.After(next) {
				if tick && h.deadline.Equal(next) {
					return fmt.Errorf("poll tick and deadline coincide at %s; use a poll interval that does not divide the timeout",
						next.Sub(Epoch))
				}
				next, tick, deadline = h.deadline, false, true
			}
		}

		h.clock.SetTime(next)

		switch {
		case tick:
			select {
			case <-h.ticks:
			case <-ctx.Done():
				return fmt.Errorf("waiting for poll tick: %w", ctx.Err())
			}
			h.nextTick = h.nextTick.Add(h.interval)
			if err := h.settle(ctx); err != nil {
				return err
			}
		case deadline:
			opID := h.current()
			if err := h.trace.WaitFor(ctx, 1, terminalOf(opID)); err != nil {
				return fmt.Errorf("waiting for expiry: %w", err)
			}
			if err := h.settle(ctx); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (h *Harness) current() string {
	if len(h.started) == 0 {
		return ""
	}
	return h.started[len(h.started)-1]
}

func (h *Harness) inFlight() bool {
	id := h.current()
	return id != "" && h.coord.Status(id).InFlight()
}

// snapshot copies the trace and archived operations before shutdown
// cancels whatever is still in flight.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	result.Trace = h.trace.Events()
	result.VerifyCalls = h.verifier.Calls()

	for _, id := range h.started {
		op, err := h.store.ReadOperation(ctx, id)
		if err != nil {
			return fmt.Errorf("read operation %s: %w", id, err)
		}
		result.Operations = append(result.Operations, op)
	}

	n, err := h.store.CountOutcomes(ctx, h.scenario.Kind)
	if err != nil {
		return err
	}
	result.Applied = n
	return nil
}

func respondError(name string) error {
	switch name {
	case RespondTransient:
		return reconcile.NewTransientError(errors.New("scripted backend unavailable"))
	case RespondRejected:
		return reconcile.NewRejectedError("scripted rejection")
	case RespondConflict:
		return reconcile.NewConflictError("scripted conflict")
	}
	return fmt.Errorf("unknown respond error %q", name)
}

func isAccepted(ev ir.TraceEvent) bool {
	return ev.Type == ir.TraceSignal && ev.Detail == reconcile.DispositionAccepted
}

func verificationOf(opID string) func(ir.TraceEvent) bool {
	return func(ev ir.TraceEvent) bool {
		return ev.Type == ir.TraceVerification && ev.OperationID == opID
	}
}

func terminalOf(opID string) func(ir.TraceEvent) bool {
	return func(ev ir.TraceEvent) bool {
		return ev.Type == ir.TraceTerminal && ev.OperationID == opID
	}
}

// convertToIRObject converts a YAML-parsed map to ir.IRObject.
func convertToIRObject(args map[string]interface{}) (ir.IRObject, error) {
	if args == nil {
		return nil, nil
	}

	result := make(ir.IRObject, len(args))
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue.
func convertToIRValue(val interface{}) (ir.IRValue, error) {
	if val == nil {
		return ir.IRNull{}, nil
	}

	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		// Amounts are minor units; only whole numbers are allowed.
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are not allowed in outcome data: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []interface{}:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]interface{}:
		obj, err := convertToIRObject(v)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}

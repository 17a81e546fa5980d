package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/roach88/handoff/internal/ir"
)

// DefaultTimeout bounds time in flight when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Signal dispositions recorded in the signal log.
const (
	DispositionAccepted = "accepted"
	DispositionIgnored  = "ignored"
	DispositionStale    = "stale"
	DispositionCancel   = "cancel"
)

// Verifier performs the authoritative, idempotent verification call.
//
// Implementations classify failures with *OperationError. Any other error is
// treated as transient.
type Verifier interface {
	Verify(ctx context.Context, req ir.VerifyRequest) (ir.VerificationResult, error)
}

// Applier performs the side effects of a confirmed operation.
// It must be a no-op when called again for the same operation id.
type Applier interface {
	Apply(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.AppliedOutcome, error)
}

// Preparer is implemented by appliers that need network calls before their
// local writes. Prepare runs in the verification goroutine after a confirmed
// result, and what it returns is passed to Apply. Its result is dropped if
// the operation ends first, so the loop never waits on it.
type Preparer interface {
	Prepare(ctx context.Context, op ir.Operation, result ir.VerificationResult) (ir.VerificationResult, error)
}

// Sink receives completion claims from adapters.
type Sink interface {
	// OnSignal submits a claim. Never blocks and never fails.
	OnSignal(sig ir.Signal)
	// Status reports the operation's current status. Unknown or superseded
	// operations report idle.
	Status(operationID string) ir.Status
}

// Adapter is one outcome channel. Open is called when an operation starts
// and Close on its terminal transition.
type Adapter interface {
	Name() string
	Open(ctx context.Context, op ir.Operation, sink Sink) error
	Close()
}

// Recorder archives operations and the signal log.
// Implemented by *store.Store.
type Recorder interface {
	SaveOperation(ctx context.Context, op ir.Operation) error
	RecordSignal(ctx context.Context, sig ir.Signal, disposition string) (string, error)
}

// Observer is the UI-facing callback surface.
// Called from the coordinator loop; implementations must not block.
type Observer interface {
	OnProgress(op ir.Operation)
	OnTerminal(r Result)
}

type noopObserver struct{}

func (noopObserver) OnProgress(ir.Operation) {}
func (noopObserver) OnTerminal(Result)       {}

// Coordinator owns at most one in-flight operation of a single kind.
//
// All state transitions happen in the Run loop goroutine. Adapters, the
// verification goroutine and the timeout supervisor only enqueue events.
//
// Thread-safety model:
//   - Start, Cancel, OnSignal, Flush, Current, Status: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Coordinator struct {
	kind        ir.Kind
	verifier    Verifier
	applier     Applier
	adapters    []Adapter
	issuer      TokenIssuer
	clock       clock.Clock
	timeout     time.Duration
	maxAttempts int
	recorder    Recorder
	observer    Observer
	trace       func(ir.TraceEvent)
	seq         *Sequencer
	queue       *eventQueue

	// Owned by the Run loop.
	runCtx  context.Context
	current *flight

	// Snapshot of the latest operation for readers outside the loop.
	mu       sync.Mutex
	snapshot ir.Operation
}

// flight is the loop-owned state of the current operation.
type flight struct {
	op     ir.Operation
	handle *Handle
	ctx    context.Context
	cancel context.CancelFunc
	sup    *supervisor
	budget *attemptBudget
	opened []Adapter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for CreatedAt and the timeout supervisor.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithTimeout sets the time-in-flight bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithMaxAttempts sets the verification budget per operation.
// Use 0 to disable the budget.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		c.maxAttempts = n
	}
}

// WithIssuer sets the correlation token issuer.
func WithIssuer(iss TokenIssuer) Option {
	return func(c *Coordinator) {
		c.issuer = iss
	}
}

// WithRecorder archives operations and signals.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithObserver sets the UI callback surface.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithTrace registers a hook called for every coordinator decision.
func WithTrace(fn func(ir.TraceEvent)) Option {
	return func(c *Coordinator) {
		c.trace = fn
	}
}

// WithSequencer shares a trace sequencer between coordinators.
func WithSequencer(s *Sequencer) Option {
	return func(c *Coordinator) {
		c.seq = s
	}
}

// New creates a Coordinator for one kind.
//
// The adapters slice is copied; adapters are opened in order on Start and
// closed in order on the terminal transition.
func New(kind ir.Kind, verifier Verifier, applier Applier, adapters []Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		kind:        kind,
		verifier:    verifier,
		applier:     applier,
		adapters:    append([]Adapter(nil), adapters...),
		issuer:      UUIDv7Issuer{},
		clock:       clock.RealClock{},
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		observer:    noopObserver{},
		queue:       newEventQueue(),
		snapshot:    ir.Operation{Kind: kind, Status: ir.StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.seq == nil {
		c.seq = NewSequencer()
	}
	return c
}

// Kind returns the kind this coordinator owns.
func (c *Coordinator) Kind() ir.Kind {
	return c.kind
}

// Start supersedes any in-flight operation of this kind and starts a new one.
//
// Returns once the operation is pending, its adapters are open and its
// timeout is armed. If ctx ends first Start returns ctx.Err(), but the
// operation may still start.
func (c *Coordinator) Start(ctx context.Context, seed ir.Seed) (*Handle, error) {
	reply := make(chan startReply, 1)
	if !c.queue.Enqueue(event{typ: eventStart, seed: seed, reply: reply}) {
		return nil, ErrStopped
	}
	select {
	case r := <-reply:
		return r.handle, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel dismisses the current operation, if any.
func (c *Coordinator) Cancel() {
	c.cancelOperation("", "dismissed by user")
}

func (c *Coordinator) cancelOperation(operationID, reason string) {
	c.queue.Enqueue(event{typ: eventCancel, operationID: operationID, reason: reason})
}

// OnSignal submits a completion claim. Implements Sink.
func (c *Coordinator) OnSignal(sig ir.Signal) {
	c.queue.Enqueue(event{typ: eventSignal, signal: sig})
}

// Status implements Sink.
func (c *Coordinator) Status(operationID string) ir.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot.ID == "" || c.snapshot.ID != operationID {
		return ir.StatusIdle
	}
	return c.snapshot.Status
}

// Current returns the latest operation of this kind. Status is idle if
// nothing has been started.
func (c *Coordinator) Current() ir.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.snapshot
	op.Metadata = maps.Clone(op.Metadata)
	return op
}

// Flush blocks until every event enqueued before it has been processed.
// Results of verification calls still running are not waited for.
func (c *Coordinator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.queue.Enqueue(event{typ: eventFlush, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled.
//
// On shutdown the in-flight operation is cancelled, so every Handle
// completes, and queued Start and Flush calls are released with ErrStopped.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("coordinator starting", "kind", c.kind)
	c.runCtx = ctx

	for {
		ev, ok := c.queue.TryDequeue()
		if ok {
			c.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("coordinator stopping", "kind", c.kind, "reason", ctx.Err())
			c.shutdown()
			return ctx.Err()
		case <-c.queue.Wait():
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.current != nil {
		c.finish(ir.StatusCancelled, NewCancelledError("coordinator stopped"), nil)
	}
	for _, ev := range c.queue.Close() {
		switch ev.typ {
		case eventStart:
			ev.reply <- startReply{err: ErrStopped}
		case eventFlush:
			close(ev.done)
		}
	}
}

// process routes an event to its handler.
// Called only from the Run goroutine.
func (c *Coordinator) process(ev event) {
	switch ev.typ {
	case eventStart:
		h, err := c.handleStart(ev.seed)
		ev.reply <- startReply{handle: h, err: err}
	case eventSignal:
		c.handleSignal(ev.signal)
	case eventVerified:
		c.handleVerified(ev)
	case eventCancel:
		c.handleCancel(ev.operationID, ev.reason)
	case eventTimeout:
		c.handleTimeout(ev.operationID)
	case eventFlush:
		close(ev.done)
	default:
		slog.Error("unknown coordinator event", "kind", c.kind, "type", ev.typ)
	}
}

func (c *Coordinator) handleStart(seed ir.Seed) (*Handle, error) {
	if c.current != nil {
		slog.Info("superseding in-flight operation",
			"kind", c.kind,
			"operation_id", c.current.op.ID,
		)
		c.finish(ir.StatusCancelled, NewCancelledError("superseded by a new operation"), nil)
	}

	op := ir.Operation{
		ID:                c.issuer.Issue(),
		Kind:              c.kind,
		CreatedAt:         c.clock.Now(),
		Status:            ir.StatusIdle,
		ExternalReference: seed.ExternalReference,
		Metadata:          maps.Clone(seed.Metadata),
	}
	if op.ID == "" {
		return nil, fmt.Errorf("start %s: issuer returned empty token", c.kind)
	}

	fctx, cancel := context.WithCancel(c.runCtx)
	f := &flight{
		ctx:    fctx,
		cancel: cancel,
		budget: newAttemptBudget(c.maxAttempts),
	}
	op.Status = ir.StatusPending
	f.op = op
	f.handle = newHandle(op, c)
	c.current = f
	c.publish(op)
	c.save(op)

	f.sup = supervise(c.clock, c.timeout, op.ID, c.queue)

	for _, a := range c.adapters {
		if err := a.Open(fctx, op, c); err != nil {
			slog.Warn("adapter failed to open",
				"kind", c.kind,
				"operation_id", op.ID,
				"adapter", a.Name(),
				"error", err,
			)
			continue
		}
		f.opened = append(f.opened, a)
	}

	c.emit(ir.TraceEvent{
		Type:        ir.TraceStarted,
		OperationID: op.ID,
		Status:      op.Status,
		Reference:   op.ExternalReference,
	})
	slog.Info("operation started",
		"kind", c.kind,
		"operation_id", op.ID,
		"adapters", len(f.opened),
		"timeout", c.timeout,
	)
	c.observer.OnProgress(op)
	return f.handle, nil
}

func (c *Coordinator) handleSignal(sig ir.Signal) {
	f := c.current
	if f == nil || sig.OperationID != f.op.ID {
		c.record(sig, DispositionStale)
		c.emit(ir.TraceEvent{
			Type:        ir.TraceIgnored,
			OperationID: sig.OperationID,
			Status:      c.Status(sig.OperationID),
			Source:      sig.Source,
			Reference:   sig.ExternalReference,
			Detail:      DispositionStale,
		})
		slog.Debug("stale signal discarded",
			"kind", c.kind,
			"operation_id", sig.OperationID,
			"source", sig.Source,
		)
		return
	}

	if f.op.Status != ir.StatusPending {
		c.record(sig, DispositionIgnored)
		c.emit(ir.TraceEvent{
			Type:        ir.TraceIgnored,
			OperationID: f.op.ID,
			Status:      f.op.Status,
			Source:      sig.Source,
			Reference:   sig.ExternalReference,
			Detail:      DispositionIgnored,
		})
		slog.Debug("signal ignored",
			"kind", c.kind,
			"operation_id", f.op.ID,
			"source", sig.Source,
			"status", f.op.Status,
		)
		return
	}

	if sig.Outcome == ir.OutcomeCancel {
		c.record(sig, DispositionCancel)
		c.emit(ir.TraceEvent{
			Type:        ir.TraceSignal,
			OperationID: f.op.ID,
			Status:      f.op.Status,
			Source:      sig.Source,
			Reference:   sig.ExternalReference,
			Detail:      DispositionCancel,
		})
		c.finish(ir.StatusCancelled, NewCancelledError(fmt.Sprintf("cancelled via %s", sig.Source)), nil)
		return
	}

	if oe := f.budget.Take(); oe != nil {
		c.record(sig, DispositionIgnored)
		c.finish(ir.StatusFailed, oe, nil)
		return
	}

	c.record(sig, DispositionAccepted)
	if sig.ExternalReference != "" {
		f.op.ExternalReference = sig.ExternalReference
	}
	f.op.Status = ir.StatusVerifying
	f.op.Attempts = f.budget.Used()
	c.publish(f.op)
	c.save(f.op)
	c.emit(ir.TraceEvent{
		Type:        ir.TraceSignal,
		OperationID: f.op.ID,
		Status:      f.op.Status,
		Source:      sig.Source,
		Reference:   f.op.ExternalReference,
		Detail:      DispositionAccepted,
	})
	slog.Info("verifying operation",
		"kind", c.kind,
		"operation_id", f.op.ID,
		"source", sig.Source,
		"reference", f.op.ExternalReference,
		"attempt", f.op.Attempts,
	)
	c.observer.OnProgress(f.op)

	req := ir.VerifyRequest{
		Kind:          c.kind,
		Reference:     f.op.ExternalReference,
		CorrelationID: f.op.ID,
	}
	go c.verify(f.ctx, f.op, req)
}

// verify runs outside the loop, followed by the applier's Prepare step when
// it has one. A result that arrives after the operation's context was
// cancelled is dropped.
func (c *Coordinator) verify(ctx context.Context, op ir.Operation, req ir.VerifyRequest) {
	res, err := c.verifier.Verify(ctx, req)
	var prepErr error
	if p, ok := c.applier.(Preparer); ok && err == nil && res.Confirmed() {
		var prepared ir.VerificationResult
		if prepared, prepErr = p.Prepare(ctx, op, res); prepErr == nil {
			res = prepared
		}
	}
	if ctx.Err() != nil {
		return
	}
	c.queue.Enqueue(event{typ: eventVerified, operationID: op.ID, result: res, err: err, prepErr: prepErr})
}

func (c *Coordinator) handleVerified(ev event) {
	f := c.current
	if f == nil || f.op.ID != ev.operationID || f.op.Status != ir.StatusVerifying {
		slog.Debug("late verification result discarded",
			"kind", c.kind,
			"operation_id", ev.operationID,
		)
		return
	}

	if ev.err != nil {
		oe := classify(ev.err)
		if oe.Transient() {
			c.backToPending(f, oe, string(oe.Code))
			return
		}
		c.emitVerification(f, string(oe.Code))
		c.finish(ir.StatusFailed, oe, nil)
		return
	}

	res := ev.result
	if !res.Confirmed() {
		c.emitVerification(f, string(CodeRejectedOperation))
		c.finish(ir.StatusFailed, NewRejectedError(""), nil)
		return
	}

	detail := "verified"
	if res.AlreadyProcessed {
		detail = string(CodeDuplicateOperation)
	}
	c.emitVerification(f, detail)

	if ev.prepErr != nil {
		c.applyFailed(f, ev.prepErr)
		return
	}
	outcome, err := c.applier.Apply(f.ctx, f.op, res)
	if err != nil {
		c.applyFailed(f, err)
		return
	}
	c.finish(ir.StatusConfirmed, nil, &outcome)
}

func (c *Coordinator) applyFailed(f *flight, err error) {
	oe := classify(err)
	if oe.Transient() {
		c.backToPending(f, oe, "apply:"+string(oe.Code))
		return
	}
	c.finish(ir.StatusFailed, oe, nil)
}

// backToPending lets a later signal retry after a transient failure.
func (c *Coordinator) backToPending(f *flight, oe *OperationError, detail string) {
	f.op.Status = ir.StatusPending
	f.op.Error = oe.Error()
	c.publish(f.op)
	c.save(f.op)
	c.emitVerification(f, detail)
	slog.Warn("transient failure, awaiting next signal",
		"kind", c.kind,
		"operation_id", f.op.ID,
		"attempt", f.op.Attempts,
		"error", oe,
	)
	c.observer.OnProgress(f.op)
}

func (c *Coordinator) emitVerification(f *flight, detail string) {
	c.emit(ir.TraceEvent{
		Type:        ir.TraceVerification,
		OperationID: f.op.ID,
		Status:      f.op.Status,
		Reference:   f.op.ExternalReference,
		Detail:      detail,
	})
}

func (c *Coordinator) handleCancel(operationID, reason string) {
	f := c.current
	if f == nil || (operationID != "" && operationID != f.op.ID) {
		return
	}
	c.finish(ir.StatusCancelled, NewCancelledError(reason), nil)
}

func (c *Coordinator) handleTimeout(operationID string) {
	f := c.current
	if f == nil || operationID != f.op.ID {
		return
	}
	c.finish(ir.StatusExpired, NewTimeoutError(c.timeout), nil)
}

// finish performs the terminal transition of the current operation.
// Adapters are torn down and any running verification call is cancelled
// before observers are told.
func (c *Coordinator) finish(status ir.Status, err *OperationError, outcome *ir.AppliedOutcome) {
	f := c.current
	c.current = nil

	f.cancel()
	f.sup.Stop()
	for _, a := range f.opened {
		a.Close()
	}

	f.op.Status = status
	var resErr error
	detail := ""
	if err != nil {
		// Verifiers and appliers may return shared error values.
		stamped := *err
		stamped.OperationID = f.op.ID
		stamped.Kind = c.kind
		f.op.Error = stamped.Error()
		resErr = &stamped
		detail = string(stamped.Code)
	} else {
		f.op.Error = ""
	}
	if outcome != nil {
		detail = string(outcome.Mode)
	}

	c.publish(f.op)
	c.save(f.op)
	c.emit(ir.TraceEvent{
		Type:        ir.TraceTerminal,
		OperationID: f.op.ID,
		Status:      status,
		Reference:   f.op.ExternalReference,
		Detail:      detail,
	})

	if status == ir.StatusConfirmed {
		slog.Info("operation confirmed",
			"kind", c.kind,
			"operation_id", f.op.ID,
			"mode", outcome.Mode,
			"destination", outcome.Destination,
		)
	} else {
		slog.Info("operation ended",
			"kind", c.kind,
			"operation_id", f.op.ID,
			"status", status,
			"error", resErr,
		)
	}

	res := Result{Operation: f.op, Outcome: outcome, Err: resErr}
	f.handle.complete(res)
	c.observer.OnTerminal(res)
}

func (c *Coordinator) publish(op ir.Operation) {
	c.mu.Lock()
	c.snapshot = op
	c.mu.Unlock()
}

func (c *Coordinator) emit(ev ir.TraceEvent) {
	if c.trace == nil {
		return
	}
	ev.Seq = c.seq.Next()
	c.trace(ev)
}

// persistCtx outlives the loop context so terminal states are archived
// during shutdown.
func (c *Coordinator) persistCtx() context.Context {
	return context.WithoutCancel(c.runCtx)
}

func (c *Coordinator) save(op ir.Operation) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.SaveOperation(c.persistCtx(), op); err != nil {
		slog.Error("failed to archive operation",
			"kind", c.kind,
			"operation_id", op.ID,
			"status", op.Status,
			"error", err,
		)
	}
}

func (c *Coordinator) record(sig ir.Signal, disposition string) {
	if c.recorder == nil {
		return
	}
	if _, err := c.recorder.RecordSignal(c.persistCtx(), sig, disposition); err != nil {
		slog.Error("failed to record signal",
			"kind", c.kind,
			"operation_id", sig.OperationID,
			"source", sig.Source,
			"error", err,
		)
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTrace_CountsDecisions(t *testing.T) {
	m := New(clocktesting.NewFakePassiveClock(testEpoch))
	trace := m.Trace(ir.KindPayment)

	for _, ev := range []ir.TraceEvent{
		{Type: ir.TraceStarted, OperationID: "op-1"},
		{Type: ir.TraceIgnored, OperationID: "op-1", Source: ir.SourcePoll, Detail: reconcile.DispositionIgnored},
		{Type: ir.TraceSignal, OperationID: "op-1", Source: ir.SourceDeepLink, Detail: reconcile.DispositionAccepted},
		{Type: ir.TraceVerification, OperationID: "op-1", Detail: string(reconcile.CodeTransientVerification)},
		{Type: ir.TraceSignal, OperationID: "op-1", Source: ir.SourcePoll, Detail: reconcile.DispositionAccepted},
		{Type: ir.TraceVerification, OperationID: "op-1", Detail: "verified"},
		{Type: ir.TraceTerminal, OperationID: "op-1", Status: ir.StatusConfirmed},
	} {
		trace(ev)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.started.WithLabelValues("payment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("payment", "deep_link", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("payment", "poll", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("payment", "poll", "ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("payment", "verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("payment", "TRANSIENT_VERIFICATION")))

	// Terminal events are counted through the observer, not the trace.
	assert.Equal(t, 0, testutil.CollectAndCount(m.finished))
}

func TestOnTerminal_CountsAndTimes(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(testEpoch.Add(42 * time.Second))
	m := New(clk)

	m.OnTerminal(reconcile.Result{Operation: ir.Operation{
		ID:        "op-1",
		Kind:      ir.KindAuth,
		Status:    ir.StatusExpired,
		CreatedAt: testEpoch,
	}})

	expected := `
# HELP handoff_operations_finished_total Count of operations reaching a terminal status, by kind and status.
# TYPE handoff_operations_finished_total counter
handoff_operations_finished_total{kind="auth",status="expired"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"handoff_operations_finished_total"))

	expectedHist := `
# HELP handoff_operation_duration_seconds Time from start to terminal status, by kind and status.
# TYPE handoff_operation_duration_seconds histogram
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="1"} 0
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="5"} 0
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="15"} 0
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="30"} 0
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="60"} 1
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="120"} 1
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="300"} 1
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="600"} 1
handoff_operation_duration_seconds_bucket{kind="auth",status="expired",le="+Inf"} 1
handoff_operation_duration_seconds_sum{kind="auth",status="expired"} 42
handoff_operation_duration_seconds_count{kind="auth",status="expired"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expectedHist),
		"handoff_operation_duration_seconds"))
}

func TestOnTerminal_ZeroCreatedAtSkipsDuration(t *testing.T) {
	m := New(nil)
	m.OnTerminal(reconcile.Result{Operation: ir.Operation{Kind: ir.KindAuth, Status: ir.StatusCancelled}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("auth", "cancelled")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.duration))
}

type recordingObserver struct {
	progress []string
	terminal []string
}

func (r *recordingObserver) OnProgress(op ir.Operation) {
	r.progress = append(r.progress, op.ID)
}

func (r *recordingObserver) OnTerminal(res reconcile.Result) {
	r.terminal = append(r.terminal, res.Operation.ID)
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, b}

	obs.OnProgress(ir.Operation{ID: "op-1"})
	obs.OnTerminal(reconcile.Result{Operation: ir.Operation{ID: "op-1"}})

	for _, r := range []*recordingObserver{a, b} {
		assert.Equal(t, []string{"op-1"}, r.progress)
		assert.Equal(t, []string{"op-1"}, r.terminal)
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New(nil)
	m.Trace(ir.KindAuth)(ir.TraceEvent{Type: ir.TraceStarted, OperationID: "op-1"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `handoff_operations_started_total{kind="auth"} 1`)
}

package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/ir"
)

func TestScriptedVerifier_RespondReleasesCall(t *testing.T) {
	v := NewScriptedVerifier()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type outcome struct {
		res ir.VerificationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := v.Verify(ctx, ir.VerifyRequest{Reference: "R", CorrelationID: "op-1"})
		done <- outcome{res, err}
	}()

	p, err := v.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R", p.Request.Reference)
	assert.Equal(t, 1, v.Calls())

	p.Respond(ir.VerificationResult{Verified: true})
	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.Verified)
}

func TestScriptedVerifier_FailAndCancel(t *testing.T) {
	v := NewScriptedVerifier()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	boom := errors.New("boom")
	errc := make(chan error, 1)
	go func() {
		_, err := v.Verify(ctx, ir.VerifyRequest{})
		errc <- err
	}()
	p, err := v.Next(ctx)
	require.NoError(t, err)
	p.Fail(boom)
	assert.ErrorIs(t, <-errc, boom)

	callCtx, callCancel := context.WithCancel(ctx)
	go func() {
		_, err := v.Verify(callCtx, ir.VerifyRequest{})
		errc <- err
	}()
	_, err = v.Next(ctx)
	require.NoError(t, err)
	callCancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Len(t, v.Requests(), 2)
}

func TestRecordingApplier_GuardsPerOperation(t *testing.T) {
	a := NewRecordingApplier()
	ctx := context.Background()
	op := ir.Operation{ID: "op-1", Kind: ir.KindPayment}

	first, err := a.Apply(ctx, op, ir.VerificationResult{Verified: true})
	require.NoError(t, err)
	second, err := a.Apply(ctx, op, ir.VerificationResult{AlreadyProcessed: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, ir.ModeApply, first.Mode)
	assert.Equal(t, 2, a.Calls("op-1"))
	assert.Equal(t, 1, a.Effects())
}

func TestRecordingApplier_QueuedFailures(t *testing.T) {
	a := NewRecordingApplier()
	boom := errors.New("boom")
	a.Fail(boom)

	_, err := a.Apply(context.Background(), ir.Operation{ID: "op-1"}, ir.VerificationResult{Verified: true})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, a.Effects())

	_, err = a.Apply(context.Background(), ir.Operation{ID: "op-1"}, ir.VerificationResult{Verified: true})
	assert.NoError(t, err)
	_, ok := a.Outcome("op-1")
	assert.True(t, ok)
}

func TestTraceLog_WaitFor(t *testing.T) {
	l := NewTraceLog()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		l.Record(ir.TraceEvent{Type: ir.TraceStarted})
		l.Record(ir.TraceEvent{Type: ir.TraceSignal})
		l.Record(ir.TraceEvent{Type: ir.TraceSignal})
	}()

	require.NoError(t, l.WaitFor(ctx, 2, OfType(ir.TraceSignal)))
	assert.Equal(t, 2, l.Count(OfType(ir.TraceSignal)))
}

func TestTraceLog_WaitForTimesOut(t *testing.T) {
	l := NewTraceLog()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.WaitFor(ctx, 1, OfType(ir.TraceTerminal))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

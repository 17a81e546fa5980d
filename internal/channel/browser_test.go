package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/ir"
)

func TestNavigationInterceptor_InterceptsConventionURLs(t *testing.T) {
	nav := NewNavigationInterceptor(DefaultBrowser(ir.KindAuth))
	sink := newFakeSink()
	require.NoError(t, nav.Open(context.Background(), ir.Operation{ID: "op-1"}, sink))

	assert.Equal(t, DecisionAllow, nav.Navigate("https://accounts.idp.example/login"))
	assert.Equal(t, DecisionIntercept, nav.Navigate("https://return.dateapp.example/auth/callback?code=abc&state=op-1"))
	assert.Equal(t, DecisionIntercept, nav.Navigate("https://return.dateapp.example/auth/cancel"))

	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, ir.SourceBrowserNav, got[0].Source)
	assert.Equal(t, ir.OutcomeSuccess, got[0].Outcome)
	assert.Equal(t, "abc", got[0].ExternalReference)
	assert.Equal(t, "op-1", got[0].OperationID)
	assert.Equal(t, ir.OutcomeCancel, got[1].Outcome)
}

func TestNavigationInterceptor_UncorrelatedSuccessSwallowedWithoutClaim(t *testing.T) {
	nav := NewNavigationInterceptor(DefaultBrowser(ir.KindPayment))
	sink := newFakeSink()
	require.NoError(t, nav.Open(context.Background(), ir.Operation{ID: "op-2"}, sink))

	decision := nav.Navigate("https://return.dateapp.example/payment/success?session_id=cs_old")
	assert.Equal(t, DecisionIntercept, decision)
	assert.Empty(t, sink.received())
}

func TestNavigationInterceptor_SwallowsAfterClose(t *testing.T) {
	nav := NewNavigationInterceptor(DefaultBrowser(ir.KindPayment))
	sink := newFakeSink()
	require.NoError(t, nav.Open(context.Background(), ir.Operation{ID: "op-1"}, sink))
	nav.Close()

	decision := nav.Navigate("https://return.dateapp.example/payment/success?session_id=cs_1")
	assert.Equal(t, DecisionIntercept, decision, "dead-end return page is never loaded")
	assert.Empty(t, sink.received())
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allow", DecisionAllow.String())
	assert.Equal(t, "intercept", DecisionIntercept.String())
}

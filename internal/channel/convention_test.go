package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/ir"
)

func TestConvention_Match(t *testing.T) {
	payment := DefaultDeepLink(ir.KindPayment)

	tests := []struct {
		name  string
		url   string
		ok    bool
		match Match
	}{
		{
			name:  "success with reference and correlation",
			url:   "dateapp://payment/success?session_id=cs_1&cid=op-1",
			ok:    true,
			match: Match{Outcome: ir.OutcomeSuccess, Reference: "cs_1", CorrelationID: "op-1", CorrelationRequired: true},
		},
		{
			name:  "trailing slash",
			url:   "dateapp://payment/success/?session_id=cs_1",
			ok:    true,
			match: Match{Outcome: ir.OutcomeSuccess, Reference: "cs_1", CorrelationRequired: true},
		},
		{
			name:  "scheme and host are case-insensitive",
			url:   "DateApp://PAYMENT/cancel",
			ok:    true,
			match: Match{Outcome: ir.OutcomeCancel, CorrelationRequired: true},
		},
		{name: "other host", url: "dateapp://auth/callback?code=x", ok: false},
		{name: "other scheme", url: "https://payment/success", ok: false},
		{name: "unknown path", url: "dateapp://payment/receipt", ok: false},
		{name: "unparseable", url: "::not a url", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := payment.Match(tt.url)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.match, m)
			}
		})
	}
}

func TestConvention_EmptySchemeAndHostMatchAny(t *testing.T) {
	c := Convention{SuccessPath: "done", ReferenceParam: "ref"}

	m, ok := c.Match("https://anything.example/done?ref=R")
	assert.True(t, ok)
	assert.Equal(t, "R", m.Reference)
}

func TestMatch_SignalPrefersCorrelationID(t *testing.T) {
	m := Match{Outcome: ir.OutcomeSuccess, Reference: "R", CorrelationID: "op-old", CorrelationRequired: true}
	sig, ok := m.Signal("op-new", ir.SourceDeepLink, "dateapp://x")
	require.True(t, ok)
	assert.Equal(t, "op-old", sig.OperationID)
	assert.Equal(t, "dateapp://x", sig.RawPayload)
}

func TestMatch_SignalWithoutCorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		match    Match
		ok       bool
		wantOpID string
	}{
		{
			name:  "success link missing required correlation",
			match: Match{Outcome: ir.OutcomeSuccess, Reference: "R", CorrelationRequired: true},
			ok:    false,
		},
		{
			name:     "cancel link goes to the current operation",
			match:    Match{Outcome: ir.OutcomeCancel, CorrelationRequired: true},
			ok:       true,
			wantOpID: "op-new",
		},
		{
			name:     "convention without correlation parameter",
			match:    Match{Outcome: ir.OutcomeSuccess, Reference: "R"},
			ok:       true,
			wantOpID: "op-new",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := tt.match.Signal("op-new", ir.SourceDeepLink, "")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantOpID, sig.OperationID)
		})
	}
}

func TestDefaultConventions(t *testing.T) {
	auth := DefaultDeepLink(ir.KindAuth)
	assert.Equal(t, "code", auth.ReferenceParam)
	assert.Equal(t, "state", auth.CorrelationParam)

	browser := DefaultBrowser(ir.KindPayment)
	m, ok := browser.Match("https://return.dateapp.example/payment/success?session_id=cs_2")
	assert.True(t, ok)
	assert.Equal(t, "cs_2", m.Reference)

	assert.Equal(t, Convention{}, DefaultBrowser(ir.Kind("chat")))
}

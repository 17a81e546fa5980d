package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationResultDecodesOutcomeData(t *testing.T) {
	body := `{"verified":true,"alreadyProcessed":false,"outcomeData":{"amount":1999,"currency":"usd","user":{"id":"u1"},"note":null}}`

	var res VerificationResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))

	assert.True(t, res.Verified)
	assert.True(t, res.Confirmed())
	assert.Equal(t, ModeApply, ModeFor(res))

	amount, ok := res.OutcomeData.Int("amount")
	require.True(t, ok)
	assert.Equal(t, int64(1999), amount)

	user, ok := res.OutcomeData.Object("user")
	require.True(t, ok)
	id, _ := user.Str("id")
	assert.Equal(t, "u1", id)

	assert.Equal(t, IRNull{}, res.OutcomeData["note"])
}

func TestIRObjectRejectsFloats(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"amount":19.99}`), &obj)
	assert.Error(t, err)
}

func TestIRObjectMarshalSortedKeys(t *testing.T) {
	obj := IRObject{"b": IRInt(1), "a": IRArray{IRBool(true), IRNull{}}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,null],"b":1}`, string(data))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusConfirmed, StatusFailed, StatusCancelled, StatusExpired} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.InFlight(), s)
	}
	for _, s := range []Status{StatusPending, StatusVerifying} {
		assert.False(t, s.Terminal(), s)
		assert.True(t, s.InFlight(), s)
	}
	assert.False(t, StatusIdle.Terminal())
}

func TestModeForAlreadyProcessed(t *testing.T) {
	res := VerificationResult{AlreadyProcessed: true}
	assert.True(t, res.Confirmed())
	assert.Equal(t, ModeAdopt, ModeFor(res))
	assert.False(t, VerificationResult{}.Confirmed())
}

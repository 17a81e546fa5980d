package cli

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/backend"
	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

func TestConfirm_AuthConfirmedByPoll(t *testing.T) {
	env := newSandboxEnv(t)
	env.sandbox.Settle(ir.KindAuth, "code-1", backend.SettleRequest{UserID: "user-1", DisplayName: "Sam"})

	out, errOut, err := execute(t, "--config", env.config, "confirm", "auth", "--reference", "code-1")
	require.NoError(t, err, errOut)

	assert.Contains(t, out, "✓ auth ")
	assert.Contains(t, out, "confirmed (applied) -> onboarding")
	assert.Contains(t, errOut, "Started auth")
	assert.Contains(t, errOut, "Reference: code-1")
}

func TestConfirm_JSONOutput(t *testing.T) {
	env := newSandboxEnv(t)
	env.sandbox.Settle(ir.KindAuth, "code-2", backend.SettleRequest{UserID: "user-2"})

	out, _, err := execute(t, "--config", env.config, "--format", "json", "confirm", "auth", "--reference", "code-2")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ConfirmResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "confirmed", resp.Data.Status)
	assert.Equal(t, "auth", resp.Data.Kind)
	assert.Equal(t, "code-2", resp.Data.Reference)
	assert.Equal(t, string(ir.ModeApply), resp.Data.Mode)
	assert.NotEmpty(t, resp.Data.OperationID)
	assert.Empty(t, resp.Data.Error)
}

func TestConfirm_PaymentRejected(t *testing.T) {
	env := newSandboxEnv(t)
	env.sandbox.Reject(ir.KindPayment, "cs_declined")

	out, _, err := execute(t, "--config", env.config, "--format", "json",
		"confirm", "payment", "--reference", "cs_declined", "--account", "acct-1", "--amount", "500", "--currency", "USD")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotConfirmed, resp.Error.Code)

	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "failed", details["status"])
	assert.Equal(t, "REJECTED_OPERATION", details["error_code"])
	assert.Equal(t, int64(0), env.sandbox.Balance("acct-1"))
}

func TestConfirm_PaymentCreatesIntent(t *testing.T) {
	// Nothing settles the intent, so the run ends at its deadline.
	env := newSandboxEnvWithTimeout(t, "300ms")

	out, errOut, err := execute(t, "--config", env.config,
		"confirm", "payment", "--account", "acct-1", "--amount", "499", "--currency", "USD")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, errOut, "Checkout:  https://checkout.sandbox.example/")
	assert.Contains(t, out, "✗ payment ")
	assert.Contains(t, out, "expired")
}

func TestConfirm_CommandErrors(t *testing.T) {
	env := newSandboxEnv(t)

	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{
			name:    "unknown kind",
			args:    []string{"confirm", "refund"},
			message: `unknown kind "refund"`,
		},
		{
			name:    "payment without intent details",
			args:    []string{"confirm", "payment", "--account", "acct-1"},
			message: "failed to prepare operation",
		},
		{
			name:    "missing kind",
			args:    []string{"confirm"},
			message: "accepts 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"--config", env.config}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			if tt.name != "missing kind" {
				assert.Equal(t, ExitCommandError, GetExitCode(err))
			}
		})
	}
}

func TestConfirm_InvalidConfig(t *testing.T) {
	env := newSandboxEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte(`auth: max_attempts: -1`), 0644))

	_, _, err := execute(t, "--config", env.config, "confirm", "auth", "--reference", "code-1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewConfirmResult(t *testing.T) {
	res := newConfirmResult(reconcile.Result{
		Operation: ir.Operation{
			ID:                "op-1",
			Kind:              ir.KindPayment,
			Status:            ir.StatusConfirmed,
			ExternalReference: "cs_1",
			Attempts:          2,
		},
		Outcome: &ir.AppliedOutcome{
			OperationID: "op-1",
			Kind:        ir.KindPayment,
			Mode:        ir.ModeAdopt,
			Destination: ir.DestinationPaymentSuccess,
		},
	})
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, "payment", res.Kind)
	assert.Equal(t, "confirmed", res.Status)
	assert.Equal(t, "adopted", res.Mode)
	assert.Equal(t, ir.DestinationPaymentSuccess, res.Destination)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, res.ErrorCode)

	failed := newConfirmResult(reconcile.Result{
		Operation: ir.Operation{ID: "op-2", Kind: ir.KindAuth, Status: ir.StatusExpired},
		Err:       reconcile.NewTimeoutError(5 * time.Minute),
	})
	assert.Equal(t, "expired", failed.Status)
	assert.Equal(t, string(reconcile.CodeOperationTimeout), failed.ErrorCode)
	assert.NotEmpty(t, failed.Error)
	assert.Empty(t, failed.Mode)
}

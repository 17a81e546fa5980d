package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/backend"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handoff.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func TestValidateDefaults(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
	assert.Contains(t, out, "http://127.0.0.1:8787")
	assert.Contains(t, out, "timeout 5m0s, poll 3s, max 20 attempts")
}

func TestValidateFileJSON(t *testing.T) {
	path := writeConfig(t, `
database: "prod.db"
payment: {
	poll_interval: "5s"
	max_attempts:  3
	browser: {
		scheme:            "https"
		host:              "pay.example"
		success_path:      "/done"
		cancel_path:       "/back"
		reference_param:   "session"
		correlation_param: "cid"
	}
}
`)

	out, _, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.NotNil(t, resp.Data.Config)
	assert.Equal(t, "prod.db", resp.Data.Config.Database)

	payment := resp.Data.Config.Kinds["payment"]
	assert.Equal(t, "5s", payment.PollInterval)
	assert.Equal(t, 3, payment.MaxAttempts)
	assert.Equal(t, "https://pay.example", payment.Browser)
	assert.Equal(t, "dateapp://payment", payment.DeepLink)
}

func TestValidateUsesConfigFlag(t *testing.T) {
	path := writeConfig(t, `database: "from-flag.db"`)

	out, _, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "database: from-flag.db")
}

func TestValidateInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"zero duration", `auth: poll_interval: "0s"`, "auth.poll_interval"},
		{"bad duration", `auth: timeout: "soon"`, ""},
		{"negative attempts", `payment: max_attempts: -2`, ""},
		{"bad url", `backend: url: "ftp://x"`, ""},
		{"unknown field", `refunds: {}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.src)

			out, _, err := execute(t, "--format", "json", "validate", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp struct {
				Status string   `json:"status"`
				Error  CLIError `json:"error"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)

			details, ok := resp.Error.Details.(map[string]any)
			require.True(t, ok)
			errs, ok := details["errors"].([]any)
			require.True(t, ok)
			require.Len(t, errs, 1)
			if tt.field != "" {
				first := errs[0].(map[string]any)
				assert.Equal(t, tt.field, first["field"])
			}
		})
	}
}

func TestValidateInvalidConfigText(t *testing.T) {
	path := writeConfig(t, "database: \"x.db\"\nauth: poll_interval: \"0s\"\n")

	out, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E003: auth.poll_interval: must be positive")
}

func TestValidateMissingFile(t *testing.T) {
	out, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestValidateCheckBackend(t *testing.T) {
	srv := httptest.NewServer(backend.NewSandbox("https://checkout.sandbox.example").Handler())
	defer srv.Close()

	t.Run("healthy", func(t *testing.T) {
		path := writeConfig(t, fmt.Sprintf(`backend: url: %q`, srv.URL))
		out, _, err := execute(t, "validate", path, "--check-backend")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Config valid")
	})

	t.Run("unreachable", func(t *testing.T) {
		path := writeConfig(t, `backend: {
	url:             "http://127.0.0.1:1"
	request_timeout: "200ms"
}`)
		out, _, err := execute(t, "validate", path, "--check-backend")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E004]")
	})
}

func TestValidateVerboseOutput(t *testing.T) {
	path := writeConfig(t, `database: "v.db"`)

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errOut.String(), "Validating "+path)
	assert.NotContains(t, out.String(), "Validating")
}

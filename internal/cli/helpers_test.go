package cli

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/backend"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// sandboxEnv is a running sandbox backend with a config file pointing at it.
type sandboxEnv struct {
	sandbox *backend.Sandbox
	config  string
	db      string
}

func newSandboxEnv(t *testing.T) *sandboxEnv {
	t.Helper()
	return newSandboxEnvWithTimeout(t, "10s")
}

// newSandboxEnvWithTimeout bounds every operation by timeout.
func newSandboxEnvWithTimeout(t *testing.T, timeout string) *sandboxEnv {
	t.Helper()

	sandbox := backend.NewSandbox("https://checkout.sandbox.example")
	srv := httptest.NewServer(sandbox.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	db := filepath.Join(dir, "handoff.db")
	src := fmt.Sprintf(`backend: url: %q
database: %q
callback_addr: "127.0.0.1:0"
auth: {
	timeout:       %[3]q
	poll_interval: "50ms"
}
payment: {
	timeout:       %[3]q
	poll_interval: "50ms"
}
`, srv.URL, db, timeout)
	path := filepath.Join(dir, "handoff.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	return &sandboxEnv{sandbox: sandbox, config: path, db: db}
}

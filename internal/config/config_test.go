package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/handoff/internal/channel"
	"github.com/roach88/handoff/internal/ir"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	want := &Config{
		BackendURL:     "http://127.0.0.1:8787",
		RequestTimeout: 10 * time.Second,
		Database:       "handoff.db",
		CallbackAddr:   "127.0.0.1:8788",
		SandboxAddr:    "127.0.0.1:8787",
		Kinds: map[ir.Kind]KindConfig{
			ir.KindAuth: {
				Timeout:      5 * time.Minute,
				PollInterval: 3 * time.Second,
				MaxAttempts:  20,
				DeepLink:     channel.DefaultDeepLink(ir.KindAuth),
				Browser:      channel.DefaultBrowser(ir.KindAuth),
			},
			ir.KindPayment: {
				Timeout:      5 * time.Minute,
				PollInterval: 3 * time.Second,
				MaxAttempts:  20,
				DeepLink:     channel.DefaultDeepLink(ir.KindPayment),
				Browser:      channel.DefaultBrowser(ir.KindPayment),
			},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Default() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Overrides(t *testing.T) {
	src := `
backend: {
	url:             "https://api.dateapp.example"
	request_timeout: "2s"
}
database: "/var/lib/handoff/state.db"
payment: {
	timeout:       "90s"
	poll_interval: "1s"
	max_attempts:  0
	deep_link: {
		scheme:            "myapp"
		host:              "pay"
		success_path:      "/ok"
		cancel_path:       "/back"
		reference_param:   "ref"
		correlation_param: "cid"
	}
}
`
	cfg, err := Parse("handoff.cue", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "https://api.dateapp.example", cfg.BackendURL)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/var/lib/handoff/state.db", cfg.Database)

	pay := cfg.Kind(ir.KindPayment)
	assert.Equal(t, 90*time.Second, pay.Timeout)
	assert.Equal(t, time.Second, pay.PollInterval)
	assert.Equal(t, 0, pay.MaxAttempts)
	assert.Equal(t, "myapp", pay.DeepLink.Scheme)
	assert.Equal(t, "/ok", pay.DeepLink.SuccessPath)
	assert.Equal(t, channel.DefaultBrowser(ir.KindPayment), pay.Browser)

	auth := cfg.Kind(ir.KindAuth)
	assert.Equal(t, 5*time.Minute, auth.Timeout, "untouched kind keeps defaults")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"unknown field", `databse: "x.db"`, ""},
		{"bad duration", `auth: timeout: "soon"`, ""},
		{"zero duration", `auth: poll_interval: "0s"`, "auth.poll_interval"},
		{"negative attempts", `payment: max_attempts: -1`, ""},
		{"bad url", `backend: url: "ftp://x"`, ""},
		{"incomplete convention", `auth: deep_link: scheme: "x"`, ""},
		{"bad path", `auth: browser: {scheme: "https", host: "h", success_path: "ok", cancel_path: "/c", reference_param: "r", correlation_param: "c"}`, ""},
		{"syntax", `auth: {`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var cerr *Error
			require.True(t, errors.As(err, &cerr), "want *config.Error, got %T: %v", err, err)
			if tt.field != "" {
				assert.Equal(t, tt.field, cerr.Field)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handoff.cue")
	require.NoError(t, os.WriteFile(path, []byte(`callback_addr: "127.0.0.1:9999"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.CallbackAddr)

	_, err = Load(filepath.Join(dir, "missing.cue"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestError_Format(t *testing.T) {
	assert.Equal(t, "auth.timeout: must be positive", (&Error{Field: "auth.timeout", Message: "must be positive"}).Error())
	assert.Equal(t, "boom", (&Error{Message: "boom"}).Error())
}

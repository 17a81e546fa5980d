package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/handoff/internal/channel"
	"github.com/roach88/handoff/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved runtime configuration.
type Config struct {
	BackendURL     string
	RequestTimeout time.Duration
	Database       string
	CallbackAddr   string
	SandboxAddr    string

	Kinds map[ir.Kind]KindConfig
}

// KindConfig configures the coordinator and channels of one kind.
type KindConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	DeepLink     channel.Convention
	Browser      channel.Convention
}

// Kind returns the configuration for kind.
func (c *Config) Kind(kind ir.Kind) KindConfig {
	return c.Kinds[kind]
}

// Error is a configuration error with its CUE position, if known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// file mirrors the CUE schema for decoding.
type file struct {
	Backend struct {
		URL            string `json:"url"`
		RequestTimeout string `json:"request_timeout"`
	} `json:"backend"`
	Database     string   `json:"database"`
	CallbackAddr string   `json:"callback_addr"`
	SandboxAddr  string   `json:"sandbox_addr"`
	Auth         kindFile `json:"auth"`
	Payment      kindFile `json:"payment"`
}

type kindFile struct {
	Timeout      string              `json:"timeout"`
	PollInterval string              `json:"poll_interval"`
	MaxAttempts  int                 `json:"max_attempts"`
	DeepLink     *channel.Convention `json:"deep_link"`
	Browser      *channel.Convention `json:"browser"`
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse("", nil)
}

// Load reads and validates a CUE configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse unifies src with the schema and resolves defaults.
// An empty src yields the defaults.
func Parse(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def
	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		value = def.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f file
	if err := value.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}
	return resolve(f)
}

func resolve(f file) (*Config, error) {
	reqTimeout, err := parseDuration("backend.request_timeout", f.Backend.RequestTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BackendURL:     f.Backend.URL,
		RequestTimeout: reqTimeout,
		Database:       f.Database,
		CallbackAddr:   f.CallbackAddr,
		SandboxAddr:    f.SandboxAddr,
		Kinds:          make(map[ir.Kind]KindConfig, len(ir.Kinds)),
	}

	for _, k := range []struct {
		kind ir.Kind
		file kindFile
	}{{ir.KindAuth, f.Auth}, {ir.KindPayment, f.Payment}} {
		kc, err := resolveKind(k.kind, k.file)
		if err != nil {
			return nil, err
		}
		cfg.Kinds[k.kind] = kc
	}
	return cfg, nil
}

func resolveKind(kind ir.Kind, kf kindFile) (KindConfig, error) {
	timeout, err := parseDuration(string(kind)+".timeout", kf.Timeout)
	if err != nil {
		return KindConfig{}, err
	}
	poll, err := parseDuration(string(kind)+".poll_interval", kf.PollInterval)
	if err != nil {
		return KindConfig{}, err
	}

	kc := KindConfig{
		Timeout:      timeout,
		PollInterval: poll,
		MaxAttempts:  kf.MaxAttempts,
		DeepLink:     channel.DefaultDeepLink(kind),
		Browser:      channel.DefaultBrowser(kind),
	}
	if kf.DeepLink != nil {
		kc.DeepLink = *kf.DeepLink
	}
	if kf.Browser != nil {
		kc.Browser = *kf.Browser
	}
	return kc, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &Error{Field: field, Message: err.Error()}
	}
	if d <= 0 {
		return 0, &Error{Field: field, Message: "must be positive"}
	}
	return d, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	e.Field = strings.Join(first.Path(), ".")
	return e
}

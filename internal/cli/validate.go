package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/handoff/internal/backend"
	"github.com/roach88/handoff/internal/config"
	"github.com/roach88/handoff/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	CheckBackend bool
}

// ValidationError is one configuration problem.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *ConfigSummary    `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ConfigSummary is the resolved configuration, as reported by validate.
type ConfigSummary struct {
	BackendURL     string                 `json:"backend_url"`
	RequestTimeout string                 `json:"request_timeout"`
	Database       string                 `json:"database"`
	CallbackAddr   string                 `json:"callback_addr"`
	SandboxAddr    string                 `json:"sandbox_addr"`
	Kinds          map[string]KindSummary `json:"kinds"`
}

// KindSummary is the resolved configuration of one kind.
type KindSummary struct {
	Timeout      string `json:"timeout"`
	PollInterval string `json:"poll_interval"`
	MaxAttempts  int    `json:"max_attempts"`
	DeepLink     string `json:"deep_link"`
	Browser      string `json:"browser"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Long: `Validate a CUE configuration file against the schema and print the
resolved settings. Without an argument, --config (or the built-in
defaults) is validated.

With --check-backend the configured backend must also answer its health
check.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.CheckBackend, "check-backend", false, "also call the backend health endpoint")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		formatter.VerboseLog("No config file given, validating defaults")
		cfg, err = config.Default()
	} else {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path))
		}
		formatter.VerboseLog("Validating %s", path)
		cfg, err = config.Load(path)
	}
	if err != nil {
		return outputValidationErrors(formatter, []ValidationError{toValidationError(err)})
	}

	if opts.CheckBackend {
		client := backend.NewClient(cfg.BackendURL, backend.WithRequestTimeout(cfg.RequestTimeout))
		if err := client.Health(context.Background()); err != nil {
			return outputValidateError(formatter, ErrCodeBackend, fmt.Sprintf("backend %s unhealthy: %v", cfg.BackendURL, err))
		}
		formatter.VerboseLog("Backend %s healthy", cfg.BackendURL)
	}

	return outputValidateSuccess(formatter, summarize(cfg))
}

func toValidationError(err error) ValidationError {
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		return ValidationError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	ve := ValidationError{
		Code:    ErrCodeInvalidConfig,
		Field:   cfgErr.Field,
		Message: cfgErr.Message,
	}
	if cfgErr.Pos.IsValid() {
		ve.Line = cfgErr.Pos.Line()
		ve.Column = cfgErr.Pos.Column()
	}
	return ve
}

func summarize(cfg *config.Config) *ConfigSummary {
	s := &ConfigSummary{
		BackendURL:     cfg.BackendURL,
		RequestTimeout: cfg.RequestTimeout.String(),
		Database:       cfg.Database,
		CallbackAddr:   cfg.CallbackAddr,
		SandboxAddr:    cfg.SandboxAddr,
		Kinds:          make(map[string]KindSummary, len(ir.Kinds)),
	}
	for _, kind := range ir.Kinds {
		kc := cfg.Kind(kind)
		s.Kinds[string(kind)] = KindSummary{
			Timeout:      kc.Timeout.String(),
			PollInterval: kc.PollInterval.String(),
			MaxAttempts:  kc.MaxAttempts,
			DeepLink:     kc.DeepLink.Scheme + "://" + kc.DeepLink.Host,
			Browser:      kc.Browser.Scheme + "://" + kc.Browser.Host,
		}
	}
	return s
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, summary *ConfigSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: summary})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	fmt.Fprintf(w, "  backend:  %s (timeout %s)\n", summary.BackendURL, summary.RequestTimeout)
	fmt.Fprintf(w, "  database: %s\n", summary.Database)
	for _, kind := range ir.Kinds {
		ks := summary.Kinds[string(kind)]
		fmt.Fprintf(w, "  %-8s  timeout %s, poll %s, max %d attempts\n", string(kind)+":", ks.Timeout, ks.PollInterval, ks.MaxAttempts)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs configuration errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs[0].Code, errs[0].Message, ValidationResult{Valid: false, Errors: errs})
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		if err.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
		}
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

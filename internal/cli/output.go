package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // not confirmed, scenario failures, bad config
	ExitCommandError = 2 // bad arguments, unreadable database, coordinator crash
)

// Codes carried in CLIError.Code. Operation failures use ErrCodeNotConfirmed
// and put the reconcile code in the details.
const (
	ErrCodeGeneric       = "E001"
	ErrCodeNotFound      = "E002"
	ErrCodeInvalidConfig = "E003"
	ErrCodeBackend       = "E004"
	ErrCodeNotConfirmed  = "E005"
	ErrCodeTestFailed    = "E006"
)

// ExitError carries the process exit code out of a command's RunE.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches code and message to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to its exit code. Errors that carry no
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// OutputFormatter writes command results either as a JSON envelope or as
// terminal text. Diagnostics go to ErrWriter so JSON stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command emits.
type CLIResponse struct {
	Status      string      `json:"status"` // "ok" or "error"
	Data        interface{} `json:"data,omitempty"`
	Error       *CLIError   `json:"error,omitempty"`
	OperationID string      `json:"operation_id,omitempty"`
}

// CLIError describes a failed command in the JSON envelope.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ConfirmResult is the terminal report of one confirmation.
type ConfirmResult struct {
	OperationID string `json:"operation_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Reference   string `json:"reference,omitempty"`
	Attempts    int    `json:"attempts"`
	Mode        string `json:"mode,omitempty"`
	Destination string `json:"destination,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

func newConfirmResult(res reconcile.Result) ConfirmResult {
	out := ConfirmResult{
		OperationID: res.Operation.ID,
		Kind:        string(res.Operation.Kind),
		Status:      string(res.Operation.Status),
		Reference:   res.Operation.ExternalReference,
		Attempts:    res.Operation.Attempts,
	}
	if res.Outcome != nil {
		out.Mode = string(res.Outcome.Mode)
		out.Destination = res.Outcome.Destination
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		out.ErrorCode = string(reconcile.CodeOf(res.Err))
	}
	return out
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) emit(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success reports data as the command's result.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.isJSON() {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error reports a failed command. Text output shows details only when verbose.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.isJSON() {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Result reports how an operation ended. Anything other than confirmed is
// written as an error and returned as an ExitFailure.
func (f *OutputFormatter) Result(res reconcile.Result) error {
	r := newConfirmResult(res)
	status := res.Operation.Status

	if status == ir.StatusConfirmed {
		if f.isJSON() {
			return f.emit(CLIResponse{Status: "ok", Data: r, OperationID: r.OperationID})
		}
		fmt.Fprintf(f.Writer, "%s %s %s confirmed (%s) -> %s\n", statusMark(status), r.Kind, r.OperationID, r.Mode, r.Destination)
		return nil
	}

	message := "operation " + r.Status
	if f.isJSON() {
		if err := f.emit(CLIResponse{
			Status:      "error",
			Error:       &CLIError{Code: ErrCodeNotConfirmed, Message: message, Details: r},
			OperationID: r.OperationID,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}
	fmt.Fprintf(f.Writer, "%s %s %s %s\n", statusMark(status), r.Kind, r.OperationID, r.Status)
	if r.Error != "" {
		fmt.Fprintf(f.Writer, "  %s\n", r.Error)
	}
	return NewExitError(ExitFailure, message)
}

// Operations lists ops oldest first, one row each.
func (f *OutputFormatter) Operations(ops []ir.Operation) error {
	if f.isJSON() {
		return f.emit(CLIResponse{Status: "ok", Data: ops})
	}
	if len(ops) == 0 {
		fmt.Fprintln(f.Writer, "No operations recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tKIND\tSTATUS\tATTEMPTS\tREFERENCE\tCREATED")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			statusMark(op.Status), op.ID, op.Kind, op.Status, op.Attempts,
			dash(op.ExternalReference), op.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// statusMark is the one-rune prefix shown next to an operation status.
func statusMark(s ir.Status) string {
	switch {
	case s == ir.StatusConfirmed:
		return "✓"
	case s.Terminal():
		return "✗"
	default:
		return "…"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// VerboseLog writes a diagnostic line when verbose is on.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

// GetErrWriter is ErrWriter, or Writer when no ErrWriter is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

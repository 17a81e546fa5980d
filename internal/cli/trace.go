package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	OperationID string
	Source      string // optional - filter to one channel
}

// TraceEvent is one recorded completion claim.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	ID          string `json:"id"`
	Source      string `json:"source"`
	Outcome     string `json:"outcome"`
	Reference   string `json:"reference,omitempty"`
	Disposition string `json:"disposition"`
	RawPayload  string `json:"raw_payload,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Operation ir.Operation       `json:"operation"`
	Outcome   *ir.AppliedOutcome `json:"outcome,omitempty"`
	Timeline  []TraceEvent       `json:"timeline"`
	Stats     TraceStats         `json:"stats"`
}

// TraceStats counts signals by disposition.
type TraceStats struct {
	TotalSignals  int            `json:"total_signals"`
	BySource      map[string]int `json:"by_source"`
	ByDisposition map[string]int `json:"by_disposition"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the signal log of an operation",
		Long: `Show every completion claim recorded for an operation, in arrival
order, with the coordinator's disposition of each.

The output includes:
- Operation: final status, reference and attempt count
- Timeline: signals with their source and disposition
- Outcome: the applied outcome, if the operation was confirmed

Examples:
  handoff trace --db ./handoff.db --op 0190...
  handoff trace --db ./handoff.db --op 0190... --source poll
  handoff trace --db ./handoff.db --op 0190... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.OperationID, "op", "", "operation id to trace (required)")
	_ = cmd.MarkFlagRequired("op")
	cmd.Flags().StringVar(&opts.Source, "source", "", "filter to one source (deep_link|browser_nav|poll)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	op, err := st.ReadOperation(ctx, opts.OperationID)
	if errors.Is(err, sql.ErrNoRows) {
		formatter := opts.formatter(cmd)
		if err := formatter.Error(ErrCodeNotFound, fmt.Sprintf("no operation %s", opts.OperationID), nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("operation not found: %s", opts.OperationID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operation", err)
	}

	records, err := st.ReadSignals(ctx, op.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read signals", err)
	}

	result := TraceResult{
		Operation: op,
		Timeline:  buildTimeline(records, opts.Source),
	}
	result.Stats = traceStats(result.Timeline)

	outcome, ok, err := st.ReadOutcome(ctx, op.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcome", err)
	}
	if ok {
		result.Outcome = &outcome
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTimeline converts stored signals to timeline events, optionally
// keeping only one source.
func buildTimeline(records []store.SignalRecord, source string) []TraceEvent {
	timeline := []TraceEvent{}
	for _, rec := range records {
		if source != "" && string(rec.Signal.Source) != source {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:         rec.Seq,
			ID:          rec.ID,
			Source:      string(rec.Signal.Source),
			Outcome:     string(rec.Signal.Outcome),
			Reference:   rec.Signal.ExternalReference,
			Disposition: rec.Disposition,
			RawPayload:  rec.Signal.RawPayload,
		})
	}
	return timeline
}

func traceStats(timeline []TraceEvent) TraceStats {
	stats := TraceStats{
		TotalSignals:  len(timeline),
		BySource:      map[string]int{},
		ByDisposition: map[string]int{},
	}
	for _, ev := range timeline {
		stats.BySource[ev.Source]++
		stats.ByDisposition[ev.Disposition]++
	}
	return stats
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status:      "ok",
		Data:        result,
		OperationID: result.Operation.ID,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()
	op := result.Operation

	fmt.Fprintf(w, "Trace for %s operation: %s\n", op.Kind, op.ID)
	fmt.Fprintf(w, "Status: %s", op.Status)
	if op.Error != "" {
		fmt.Fprintf(w, " (%s)", op.Error)
	}
	fmt.Fprintln(w)
	if op.ExternalReference != "" {
		fmt.Fprintf(w, "Reference: %s\n", op.ExternalReference)
	}
	fmt.Fprintf(w, "Attempts: %d\n", op.Attempts)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no signals)")
	}
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Outcome ===")
	if result.Outcome == nil {
		fmt.Fprintln(w, "  (none applied)")
	} else {
		fmt.Fprintf(w, "  %s -> %s\n", result.Outcome.Mode, result.Outcome.Destination)
		if verbose && len(result.Outcome.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s\n", formatData(result.Outcome.Data))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Signals: %d\n", result.Stats.TotalSignals)
	for _, k := range sortedKeys(result.Stats.ByDisposition) {
		fmt.Fprintf(w, "  %-9s %d\n", k+":", result.Stats.ByDisposition[k])
	}
	return nil
}

func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	fmt.Fprintf(w, "  [%d] %-11s %-7s %s", ev.Seq, ev.Source, ev.Outcome, strings.ToUpper(ev.Disposition))
	if ev.Reference != "" {
		fmt.Fprintf(w, " ref=%s", ev.Reference)
	}
	fmt.Fprintln(w)
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(ev.ID))
		if ev.RawPayload != "" {
			fmt.Fprintf(w, "       Payload: %s\n", ev.RawPayload)
		}
	}
}

// formatData renders outcome data with sorted keys.
func formatData(obj ir.IRObject) string {
	parts := make([]string, 0, len(obj))
	for _, k := range obj.SortedKeys() {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(obj[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRObject:
		return formatData(val)
	case ir.IRArray:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return fmt.Sprintf("%d", int64(val))
	case ir.IRBool:
		return fmt.Sprintf("%t", bool(val))
	default:
		return "null"
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/store"
)

// OpsOptions holds flags for the ops command.
type OpsOptions struct {
	*RootOptions
	Database string
	Kind     string
	Limit    int
}

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List recorded operations",
		Long: `List operations recorded in the database, oldest first.

Examples:
  handoff ops --db ./handoff.db
  handoff ops --db ./handoff.db --kind payment --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only list one kind (auth|payment)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of operations (0 = all)")

	return cmd
}

func runOps(opts *OpsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	kind := ir.Kind(opts.Kind)
	if kind != "" && !kind.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q: must be one of %v", kind, ir.Kinds))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ops, err := st.ListOperations(context.Background(), kind, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list operations", err)
	}

	return formatter.Operations(ops)
}

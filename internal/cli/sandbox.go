package cli

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/handoff/internal/app"
	"github.com/roach88/handoff/internal/backend"
)

// SandboxOptions holds flags for the sandbox command.
type SandboxOptions struct {
	*RootOptions
	Addr         string
	CheckoutBase string
}

// NewSandboxCommand creates the sandbox command.
func NewSandboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SandboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the in-memory sandbox backend",
		Long: `Run an in-memory backend that implements the verification, session
and payment-intent endpoints idempotently.

External operations are completed by hand:
  POST /sandbox/{auth|payment}/{reference}/settle
  POST /sandbox/{auth|payment}/{reference}/reject

Examples:
  handoff sandbox
  handoff sandbox --addr 127.0.0.1:9000
  curl -X POST localhost:8787/sandbox/auth/code-1/settle`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.CheckoutBase, "checkout-base", "https://checkout.sandbox.example", "base URL of handed-out checkout pages")

	return cmd
}

func runSandbox(opts *SandboxOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose, cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	addr := opts.Addr
	if addr == "" {
		addr = cfg.SandboxAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sandbox := backend.NewSandbox(opts.CheckoutBase)
	slog.Info("sandbox listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "sandbox backend on http://%s\n", ln.Addr())

	if err := app.Serve(ctx, ln, sandbox.Handler()); err != nil {
		return WrapExitError(ExitCommandError, "sandbox server failed", err)
	}
	slog.Info("sandbox stopped")
	return nil
}

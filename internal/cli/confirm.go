package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/handoff/internal/app"
	"github.com/roach88/handoff/internal/apply"
	"github.com/roach88/handoff/internal/backend"
	"github.com/roach88/handoff/internal/channel"
	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
	"github.com/roach88/handoff/internal/store"
)

// ConfirmOptions holds flags for the confirm command.
type ConfirmOptions struct {
	*RootOptions
	Database     string
	CallbackAddr string
	Reference    string

	// payment intent
	AccountID   string
	AmountMinor int64
	Currency    string
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "confirm <auth|payment>",
		Short: "Run one confirmation end to end",
		Long: `Start a sign-in or payment and wait until it is confirmed, fails,
expires or is cancelled.

Completion claims arrive through the loopback callback server (standing in
for the OS deep-link handler) and the status poller. For payments without
--reference, an intent is created at the backend first.

Exit codes:
  0 - Operation confirmed
  1 - Operation failed, expired or was cancelled
  2 - Command error (invalid arguments, backend unreachable, etc.)

Examples:
  handoff confirm auth --reference code-1
  handoff confirm payment --account acct-1 --amount 499 --currency USD
  handoff confirm payment --reference cs_123 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(opts, ir.Kind(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.CallbackAddr, "callback-addr", "", "loopback callback address (default from config)")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "external reference known up front")
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "payment: account to credit")
	cmd.Flags().Int64Var(&opts.AmountMinor, "amount", 0, "payment: amount in minor units")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "payment: ISO currency code")

	return cmd
}

func runConfirm(opts *ConfirmOptions, kind ir.Kind, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if !kind.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q: must be one of %v", kind, ir.Kinds))
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.CallbackAddr != "" {
		cfg.CallbackAddr = opts.CallbackAddr
	}

	// The coordinator, the loggers and this goroutine all report to stderr.
	errw := &lockedWriter{w: cmd.ErrOrStderr()}
	formatter.ErrWriter = errw
	configureLogging(opts.Verbose, errw)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	a, err := app.New(cfg, st, app.WithObserver(&progressPrinter{w: formatter.GetErrWriter(), quiet: opts.Format == "json"}))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to wire coordinators", err)
	}

	ln, err := net.Listen("tcp", cfg.CallbackAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", cfg.CallbackAddr), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		runErrs []error
	)
	fail := func(err error) {
		mu.Lock()
		runErrs = append(runErrs, err)
		mu.Unlock()
		cancel()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.Run(runCtx); err != nil {
			fail(err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := app.Serve(runCtx, ln, a.CallbackHandler()); err != nil {
			fail(err)
		}
	}()
	shutdown := func() error {
		cancel()
		wg.Wait()
		return errors.Join(runErrs...)
	}

	seed, checkoutURL, err := confirmSeed(runCtx, opts, kind, a.Client())
	if err != nil {
		_ = shutdown()
		return WrapExitError(ExitCommandError, "failed to prepare operation", err)
	}

	h, err := a.Manager().Start(runCtx, kind, seed)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start operation", errors.Join(err, shutdown()))
	}

	if opts.Format != "json" {
		printInstructions(formatter.GetErrWriter(), cfg.Kind(kind).DeepLink, ln.Addr().String(), h.Operation(), checkoutURL)
	}

	// The handle always completes: the coordinator cancels whatever is in
	// flight when it shuts down.
	res, _ := h.Wait(context.Background())
	if err := shutdown(); err != nil {
		return WrapExitError(ExitCommandError, "coordinator failed", err)
	}

	return formatter.Result(res)
}

// confirmSeed builds the start seed. A payment without a reference gets a
// fresh intent.
func confirmSeed(ctx context.Context, opts *ConfirmOptions, kind ir.Kind, client *backend.Client) (ir.Seed, string, error) {
	seed := ir.Seed{ExternalReference: opts.Reference}
	if kind != ir.KindPayment {
		return seed, "", nil
	}

	seed.Metadata = map[string]string{}
	if opts.AccountID != "" {
		seed.Metadata[apply.MetaAccountID] = opts.AccountID
	}
	if opts.AmountMinor > 0 {
		seed.Metadata[apply.MetaAmountMinor] = strconv.FormatInt(opts.AmountMinor, 10)
	}
	if opts.Currency != "" {
		seed.Metadata[apply.MetaCurrency] = opts.Currency
	}
	if seed.ExternalReference != "" {
		return seed, "", nil
	}

	if opts.AccountID == "" || opts.AmountMinor <= 0 || opts.Currency == "" {
		return seed, "", errors.New("payment needs --reference, or --account, --amount and --currency to create an intent")
	}
	intent, err := client.CreateIntent(ctx, backend.IntentRequest{
		AmountMinor: opts.AmountMinor,
		Currency:    opts.Currency,
		AccountID:   opts.AccountID,
	})
	if err != nil {
		return seed, "", fmt.Errorf("create payment intent: %w", err)
	}
	seed.ExternalReference = intent.Reference
	return seed, intent.CheckoutURL, nil
}

func printInstructions(w io.Writer, link channel.Convention, addr string, op ir.Operation, checkoutURL string) {
	fmt.Fprintf(w, "Started %s %s\n", op.Kind, op.ID)
	if op.ExternalReference != "" {
		fmt.Fprintf(w, "  Reference: %s\n", op.ExternalReference)
	}
	if checkoutURL != "" {
		fmt.Fprintf(w, "  Checkout:  %s\n", checkoutURL)
	}
	if link.Host != "" {
		fmt.Fprintf(w, "  Callback:  http://%s/%s/%s?%s=%s\n", addr, link.Host, strings.TrimPrefix(link.SuccessPath, "/"), link.CorrelationParam, op.ID)
	}
	fmt.Fprintln(w, "Waiting for confirmation (Ctrl-C to cancel)...")
}

// progressPrinter reports in-progress transitions to the terminal.
type progressPrinter struct {
	w     io.Writer
	quiet bool
}

func (p *progressPrinter) OnProgress(op ir.Operation) {
	if p.quiet {
		return
	}
	switch op.Status {
	case ir.StatusVerifying:
		fmt.Fprintf(p.w, "  verifying (attempt %d)\n", op.Attempts)
	case ir.StatusPending:
		if op.Error != "" {
			fmt.Fprintf(p.w, "  retrying: %s\n", op.Error)
		}
	}
}

func (p *progressPrinter) OnTerminal(reconcile.Result) {}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

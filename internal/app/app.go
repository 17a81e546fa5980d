// Package app wires the reconciliation core for a running process: one
// coordinator per kind, the shared deep-link router, the embedded-browser
// interceptors, the SQLite archive and the backend client.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/utils/clock"

	"github.com/roach88/handoff/internal/apply"
	"github.com/roach88/handoff/internal/backend"
	"github.com/roach88/handoff/internal/channel"
	"github.com/roach88/handoff/internal/config"
	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/metrics"
	"github.com/roach88/handoff/internal/reconcile"
	"github.com/roach88/handoff/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// App is the wired reconciliation core.
type App struct {
	cfg      *config.Config
	store    *store.Store
	client   *backend.Client
	router   *channel.DeepLinkRouter
	browsers map[ir.Kind]*channel.NavigationInterceptor
	manager  *reconcile.Manager
	metrics  *metrics.Metrics
}

type options struct {
	clock    clock.WithTicker
	verifier reconcile.Verifier
	observer reconcile.Observer
	trace    func(ir.TraceEvent)
	metrics  *metrics.Metrics
}

// Option configures an App.
type Option func(*options)

// WithClock sets the clock for timeouts and poll tickers.
func WithClock(clk clock.WithTicker) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithVerifier replaces the backend client as verifier.
func WithVerifier(v reconcile.Verifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

// WithObserver sets the UI callback surface for every kind.
func WithObserver(obs reconcile.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithTrace registers a hook for every coordinator decision of every kind.
func WithTrace(fn func(ir.TraceEvent)) Option {
	return func(o *options) {
		o.trace = fn
	}
}

// WithMetrics counts every coordinator decision on m. Without it the App
// creates its own registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New wires one coordinator per kind from cfg. The store is owned by the
// caller.
func New(cfg *config.Config, st *store.Store, opts ...Option) (*App, error) {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.metrics == nil {
		o.metrics = metrics.New(o.clock)
	}
	observer := metrics.Observers{o.metrics}
	if o.observer != nil {
		observer = append(observer, o.observer)
	}

	client := backend.NewClient(cfg.BackendURL, backend.WithRequestTimeout(cfg.RequestTimeout))
	verifier := o.verifier
	if verifier == nil {
		verifier = client
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		client:   client,
		router:   channel.NewDeepLinkRouter(),
		browsers: make(map[ir.Kind]*channel.NavigationInterceptor, len(ir.Kinds)),
		metrics:  o.metrics,
	}

	seq := reconcile.NewSequencer()
	coords := make([]*reconcile.Coordinator, 0, len(ir.Kinds))
	for _, kind := range ir.Kinds {
		kc := cfg.Kind(kind)
		a.router.Register(kind, kc.DeepLink)
		browser := channel.NewNavigationInterceptor(kc.Browser)
		a.browsers[kind] = browser

		adapters := []reconcile.Adapter{
			channel.NewDeepLinkAdapter(a.router, kind),
			browser,
			channel.NewPoller(kc.PollInterval, channel.WithPollClock(o.clock)),
		}

		copts := []reconcile.Option{
			reconcile.WithClock(o.clock),
			reconcile.WithTimeout(kc.Timeout),
			reconcile.WithMaxAttempts(kc.MaxAttempts),
			reconcile.WithRecorder(st),
			reconcile.WithSequencer(seq),
			reconcile.WithObserver(observer),
			reconcile.WithTrace(traceHook(o.metrics.Trace(kind), o.trace)),
		}

		applier, err := a.applier(kind)
		if err != nil {
			return nil, err
		}
		coords = append(coords, reconcile.New(kind, verifier, applier, adapters, copts...))
	}

	m, err := reconcile.NewManager(coords...)
	if err != nil {
		return nil, err
	}
	a.manager = m
	return a, nil
}

func traceHook(count, user func(ir.TraceEvent)) func(ir.TraceEvent) {
	if user == nil {
		return count
	}
	return func(ev ir.TraceEvent) {
		count(ev)
		user(ev)
	}
}

func (a *App) applier(kind ir.Kind) (reconcile.Applier, error) {
	switch kind {
	case ir.KindAuth:
		return apply.NewAuth(a.store, a.client), nil
	case ir.KindPayment:
		return apply.NewPayment(a.store), nil
	}
	return nil, fmt.Errorf("no applier for kind %q", kind)
}

// Run expires operations a previous process left in flight, then runs every
// coordinator until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	n, err := a.store.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("expired operations abandoned by a previous process", "count", n)
	}
	return a.manager.Run(ctx)
}

// Manager returns the UI entry point.
func (a *App) Manager() *reconcile.Manager {
	return a.manager
}

// Client returns the backend client.
func (a *App) Client() *backend.Client {
	return a.client
}

// Router returns the OS deep-link entry point.
func (a *App) Router() *channel.DeepLinkRouter {
	return a.router
}

// Metrics returns the counters fed by every coordinator.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Browser returns the embedded-browser hook for kind, or nil.
func (a *App) Browser(kind ir.Kind) *channel.NavigationInterceptor {
	return a.browsers[kind]
}

// CallbackHandler serves the loopback redirect target for a system browser
// and /metrics. Paths map onto the first configured deep-link scheme.
func (a *App) CallbackHandler() http.Handler {
	scheme := ""
	for _, kind := range ir.Kinds {
		if s := a.cfg.Kind(kind).DeepLink.Scheme; s != "" {
			scheme = s
			break
		}
	}
	r := mux.NewRouter()
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(a.router.Handler(scheme))
	return r
}

// Serve serves h on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", ln.Addr(), err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

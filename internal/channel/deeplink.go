package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

// DeepLinkRouter is the app-wide entry point for OS URL activations.
//
// It owns one Convention per kind and routes a matching URL to whichever
// operation of that kind is subscribed. Dispatch is safe from any goroutine.
type DeepLinkRouter struct {
	mu          sync.Mutex
	conventions map[ir.Kind]Convention
	subs        map[ir.Kind]subscription
	order       []ir.Kind
}

type subscription struct {
	operationID string
	sink        reconcile.Sink
}

// NewDeepLinkRouter creates a router with no conventions.
func NewDeepLinkRouter() *DeepLinkRouter {
	return &DeepLinkRouter{
		conventions: make(map[ir.Kind]Convention),
		subs:        make(map[ir.Kind]subscription),
	}
}

// Register sets the convention for kind.
func (r *DeepLinkRouter) Register(kind ir.Kind, c Convention) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conventions[kind]; !ok {
		r.order = append(r.order, kind)
	}
	r.conventions[kind] = c
}

// Dispatch routes an activation URL. Returns false if the URL matches no
// convention or no operation of its kind is waiting.
func (r *DeepLinkRouter) Dispatch(rawURL string) bool {
	r.mu.Lock()
	var (
		kind  ir.Kind
		match Match
		found bool
	)
	for _, k := range r.order {
		if m, ok := r.conventions[k].Match(rawURL); ok {
			kind, match, found = k, m, true
			break
		}
	}
	sub, subscribed := r.subs[kind]
	r.mu.Unlock()

	if !found {
		slog.Debug("deep link ignored: no matching convention", "url", rawURL)
		return false
	}
	if !subscribed {
		slog.Info("deep link ignored: no operation waiting", "kind", kind, "outcome", match.Outcome)
		return false
	}

	sig, ok := match.Signal(sub.operationID, ir.SourceDeepLink, rawURL)
	if !ok {
		slog.Info("deep link ignored: success link without correlation id", "kind", kind)
		return false
	}
	sub.sink.OnSignal(sig)
	return true
}

func (r *DeepLinkRouter) subscribe(kind ir.Kind, operationID string, sink reconcile.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[kind] = subscription{operationID: operationID, sink: sink}
}

// unsubscribe removes the subscription only if it still belongs to
// operationID.
func (r *DeepLinkRouter) unsubscribe(kind ir.Kind, operationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[kind].operationID == operationID {
		delete(r.subs, kind)
	}
}

// Handler serves a loopback HTTP callback so a system browser can hand a
// redirect back to the process. A request for /{host}/{path}?query is
// dispatched as scheme://host/path?query.
func (r *DeepLinkRouter) Handler(scheme string) http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/{host}/{path:.*}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		rawURL := fmt.Sprintf("%s://%s/%s", scheme, vars["host"], vars["path"])
		if req.URL.RawQuery != "" {
			rawURL += "?" + req.URL.RawQuery
		}

		if !r.Dispatch(rawURL) {
			http.Error(w, "no operation is waiting for this link", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Done. You can return to the app.")
	}).Methods(http.MethodGet)
	return m
}

// DeepLinkAdapter subscribes one kind's operations to a DeepLinkRouter for
// their lifetime.
type DeepLinkAdapter struct {
	router *DeepLinkRouter
	kind   ir.Kind

	mu          sync.Mutex
	operationID string
}

// NewDeepLinkAdapter creates the deep-link channel for kind.
func NewDeepLinkAdapter(router *DeepLinkRouter, kind ir.Kind) *DeepLinkAdapter {
	return &DeepLinkAdapter{router: router, kind: kind}
}

// Name implements reconcile.Adapter.
func (a *DeepLinkAdapter) Name() string {
	return string(ir.SourceDeepLink)
}

// Open implements reconcile.Adapter.
func (a *DeepLinkAdapter) Open(ctx context.Context, op ir.Operation, sink reconcile.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.operationID = op.ID
	a.router.subscribe(a.kind, op.ID, sink)
	return nil
}

// Close implements reconcile.Adapter.
func (a *DeepLinkAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.operationID == "" {
		return
	}
	a.router.unsubscribe(a.kind, a.operationID)
	a.operationID = ""
}

package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

// Decision tells the embedded browser what to do with a navigation.
type Decision int

const (
	// DecisionAllow lets the navigation proceed.
	DecisionAllow Decision = iota
	// DecisionIntercept swallows the navigation.
	DecisionIntercept
)

func (d Decision) String() string {
	if d == DecisionIntercept {
		return "intercept"
	}
	return "allow"
}

// NavigationInterceptor is the embedded browser's navigation hook for one
// kind.
//
// Success and cancel URLs are always swallowed so the external site never
// loads a dead end; they become claims only while an operation is open.
type NavigationInterceptor struct {
	convention Convention

	mu   sync.Mutex
	op   ir.Operation
	sink reconcile.Sink
}

// NewNavigationInterceptor creates the browser channel for a convention.
func NewNavigationInterceptor(c Convention) *NavigationInterceptor {
	return &NavigationInterceptor{convention: c}
}

// Name implements reconcile.Adapter.
func (n *NavigationInterceptor) Name() string {
	return string(ir.SourceBrowserNav)
}

// Open implements reconcile.Adapter.
func (n *NavigationInterceptor) Open(ctx context.Context, op ir.Operation, sink reconcile.Sink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.op = op
	n.sink = sink
	return nil
}

// Close implements reconcile.Adapter.
func (n *NavigationInterceptor) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.op = ir.Operation{}
	n.sink = nil
}

// Navigate is called by the browser before loading rawURL.
func (n *NavigationInterceptor) Navigate(rawURL string) Decision {
	m, ok := n.convention.Match(rawURL)
	if !ok {
		return DecisionAllow
	}

	n.mu.Lock()
	op, sink := n.op, n.sink
	n.mu.Unlock()

	if sink == nil {
		return DecisionIntercept
	}
	if sig, ok := m.Signal(op.ID, ir.SourceBrowserNav, rawURL); ok {
		sink.OnSignal(sig)
	} else {
		slog.Info("return URL ignored: success link without correlation id", "operation_id", op.ID)
	}
	return DecisionIntercept
}

package channel

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/roach88/handoff/internal/ir"
	"github.com/roach88/handoff/internal/reconcile"
)

// DefaultPollInterval is the proactive verification cadence.
const DefaultPollInterval = 3 * time.Second

// Poller emits a poll claim on every tick while its operation is pending.
//
// It covers deep-link hand-offs that silently never arrive. Ticks while the
// operation is verifying are skipped so calls never overlap, and the poller
// stops as soon as the operation leaves flight.
type Poller struct {
	interval time.Duration
	clock    clock.WithTicker
	onTick   func(emitted bool)

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollClock sets the clock the ticker runs on.
func WithPollClock(clk clock.WithTicker) PollerOption {
	return func(p *Poller) {
		p.clock = clk
	}
}

// WithTickHook registers a hook called after every handled tick.
func WithTickHook(fn func(emitted bool)) PollerOption {
	return func(p *Poller) {
		p.onTick = fn
	}
}

// NewPoller creates a poller. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{interval: interval, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements reconcile.Adapter.
func (p *Poller) Name() string {
	return string(ir.SourcePoll)
}

// Open implements reconcile.Adapter. The ticker is armed before Open
// returns.
func (p *Poller) Open(ctx context.Context, op ir.Operation, sink reconcile.Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()

	ticker := p.clock.NewTicker(p.interval)
	stop := make(chan struct{})
	p.stop = stop

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C():
			}

			status := sink.Status(op.ID)
			if status.Terminal() || status == ir.StatusIdle {
				return
			}
			emitted := status == ir.StatusPending
			if emitted {
				sink.OnSignal(ir.Signal{
					OperationID:       op.ID,
					Source:            ir.SourcePoll,
					Outcome:           ir.OutcomeSuccess,
					ExternalReference: op.ExternalReference,
				})
			}
			if p.onTick != nil {
				p.onTick(emitted)
			}
		}
	}()
	return nil
}

// Close implements reconcile.Adapter. No claim is emitted after Close
// returns.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Poller) closeLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	p.wg.Wait()
}

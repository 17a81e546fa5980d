package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// Manager owns one Coordinator per kind and is the entry point for the UI.
type Manager struct {
	coordinators map[ir.Kind]*Coordinator
	order        []ir.Kind
}

// NewManager creates a manager over the given coordinators.
// Returns an error if two coordinators share a kind.
func NewManager(coordinators ...*Coordinator) (*Manager, error) {
	m := &Manager{coordinators: make(map[ir.Kind]*Coordinator, len(coordinators))}
	for _, c := range coordinators {
		if _, dup := m.coordinators[c.Kind()]; dup {
			return nil, fmt.Errorf("duplicate coordinator for kind %q", c.Kind())
		}
		m.coordinators[c.Kind()] = c
		m.order = append(m.order, c.Kind())
	}
	return m, nil
}

// Run runs every coordinator loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(m.order))
	for i, kind := range m.order {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = fmt.Errorf("coordinator %s: %w", c.Kind(), err)
			}
		}(i, m.coordinators[kind])
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Coordinator returns the coordinator for kind.
func (m *Manager) Coordinator(kind ir.Kind) (*Coordinator, error) {
	c, ok := m.coordinators[kind]
	if !ok {
		return nil, fmt.Errorf("no coordinator for kind %q", kind)
	}
	return c, nil
}

// Start starts an operation of kind, superseding any in flight.
func (m *Manager) Start(ctx context.Context, kind ir.Kind, seed ir.Seed) (*Handle, error) {
	c, err := m.Coordinator(kind)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, seed)
}

// Cancel dismisses the in-flight operation of kind, if any.
func (m *Manager) Cancel(kind ir.Kind) error {
	c, err := m.Coordinator(kind)
	if err != nil {
		return err
	}
	c.Cancel()
	return nil
}

// Current returns the latest operation of every kind in registration order.
func (m *Manager) Current() []ir.Operation {
	ops := make([]ir.Operation, 0, len(m.order))
	for _, kind := range m.order {
		ops = append(ops, m.coordinators[kind].Current())
	}
	return ops
}

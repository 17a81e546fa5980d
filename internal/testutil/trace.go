package testutil

import (
	"context"
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// TraceLog collects coordinator trace events and lets a test wait for one.
//
// Record is safe to pass as the coordinator's trace hook.
type TraceLog struct {
	mu      sync.Mutex
	events  []ir.TraceEvent
	changed chan struct{}
}

// NewTraceLog creates an empty log.
func NewTraceLog() *TraceLog {
	return &TraceLog{changed: make(chan struct{})}
}

// Record appends an event and wakes waiters.
func (l *TraceLog) Record(ev ir.TraceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	close(l.changed)
	l.changed = make(chan struct{})
}

// Events returns a copy of the recorded events.
func (l *TraceLog) Events() []ir.TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ir.TraceEvent(nil), l.events...)
}

// Count returns the number of events matching match.
func (l *TraceLog) Count(match func(ir.TraceEvent) bool) int {
	n := 0
	for _, ev := range l.Events() {
		if match(ev) {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n events match, or ctx ends.
func (l *TraceLog) WaitFor(ctx context.Context, n int, match func(ir.TraceEvent) bool) error {
	for {
		l.mu.Lock()
		count := 0
		for _, ev := range l.events {
			if match(ev) {
				count++
			}
		}
		changed := l.changed
		l.mu.Unlock()

		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OfType matches events by type.
func OfType(typ string) func(ir.TraceEvent) bool {
	return func(ev ir.TraceEvent) bool {
		return ev.Type == typ
	}
}

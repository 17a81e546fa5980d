package channel

import (
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

// fakeSink records claims and reports a settable status.
type fakeSink struct {
	mu      sync.Mutex
	signals []ir.Signal
	status  map[string]ir.Status
}

func newFakeSink() *fakeSink {
	return &fakeSink{status: make(map[string]ir.Status)}
}

func (s *fakeSink) OnSignal(sig ir.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
}

func (s *fakeSink) Status(operationID string) ir.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[operationID]; ok {
		return st
	}
	return ir.StatusIdle
}

func (s *fakeSink) setStatus(operationID string, st ir.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[operationID] = st
}

func (s *fakeSink) received() []ir.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.Signal(nil), s.signals...)
}

package reconcile

import "sync/atomic"

// Sequencer stamps trace events with a strictly increasing seq.
//
// Ordering never depends on wall-clock time, so a scripted run always
// produces the same trace. Shared by every coordinator of a Manager.
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencer creates a sequencer starting at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() int64 {
	return s.seq.Load()
}

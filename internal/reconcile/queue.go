package reconcile

import (
	"sync"

	"github.com/roach88/handoff/internal/ir"
)

type eventType int

const (
	eventStart eventType = iota + 1
	eventSignal
	eventVerified
	eventCancel
	eventTimeout
	eventFlush
)

func (t eventType) String() string {
	switch t {
	case eventStart:
		return "start"
	case eventSignal:
		return "signal"
	case eventVerified:
		return "verified"
	case eventCancel:
		return "cancel"
	case eventTimeout:
		return "timeout"
	case eventFlush:
		return "flush"
	}
	return "unknown"
}

// event is one unit of work for the coordinator loop.
// Only the fields relevant to typ are set.
type event struct {
	typ eventType

	// operationID targets verified, cancel and timeout events at one
	// operation; empty on cancel means "whatever is current".
	operationID string

	seed    ir.Seed
	reply   chan startReply
	signal  ir.Signal
	result  ir.VerificationResult
	err     error
	prepErr error // Preparer failure on a confirmed result
	reason  string
	done    chan struct{}
}

type startReply struct {
	handle *Handle
	err    error
}

// eventQueue is an unbounded thread-safe FIFO.
//
// Adapters, verification goroutines and timers enqueue from any goroutine;
// only the coordinator's Run loop dequeues. The buffered signal channel
// coalesces wakeups so Run can wait on it alongside ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so reply/done channels can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and returns whatever was still queued.
func (q *eventQueue) Close() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)

	rest := q.events
	q.events = nil
	return rest
}

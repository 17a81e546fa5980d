package reconcile

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// supervisor bounds one operation's time in flight.
//
// The timer is armed on the coordinator's clock when the operation starts
// and enqueues a single timeout event when it fires. Stop is called on every
// terminal transition; a timeout that races a terminal transition is
// discarded by the loop because the operation is no longer current.
type supervisor struct {
	timer clock.Timer
	stop  chan struct{}
	once  sync.Once
}

// supervise arms a timer that reports operationID after timeout.
func supervise(clk clock.Clock, timeout time.Duration, operationID string, q *eventQueue) *supervisor {
	s := &supervisor{
		timer: clk.NewTimer(timeout),
		stop:  make(chan struct{}),
	}
	go func() {
		select {
		case <-s.timer.C():
			q.Enqueue(event{typ: eventTimeout, operationID: operationID})
		case <-s.stop:
		}
	}()
	return s
}

// Stop disarms the timer. Safe to call more than once.
func (s *supervisor) Stop() {
	s.once.Do(func() {
		s.timer.Stop()
		close(s.stop)
	})
}

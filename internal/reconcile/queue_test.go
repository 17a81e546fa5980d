package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(event{typ: eventCancel, operationID: id}))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.operationID)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(event{typ: eventFlush})
	q.Enqueue(event{typ: eventFlush})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected a single coalesced wakeup")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_CloseReturnsRemainder(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(event{typ: eventStart})
	q.Enqueue(event{typ: eventFlush})

	rest := q.Close()
	require.Len(t, rest, 2)
	assert.Equal(t, eventStart, rest[0].typ)

	assert.False(t, q.Enqueue(event{typ: eventFlush}), "enqueue after close should fail")
	assert.Nil(t, q.Close(), "second close returns nothing")

	// The wakeup left by Enqueue is still buffered; the channel reports
	// closed once it is drained.
	_, open := <-q.Wait()
	assert.True(t, open, "buffered wakeup is delivered first")
	select {
	case _, open = <-q.Wait():
		assert.False(t, open, "wait channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("wait channel was not closed")
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(event{typ: eventSignal})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "start", eventStart.String())
	assert.Equal(t, "verified", eventVerified.String())
	assert.Equal(t, "unknown", eventType(99).String())
}

package scheduler

import (
	"sync"
	"time"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/model"
)

type eventType int

const (
	// eventStarted: a worker holds a permit and is about to call the executor.
	eventStarted eventType = iota + 1
	// eventFinished: a worker is done with its resource, successfully or not.
	eventFinished
)

// event is what workers report back to the pass coordinator.
type event struct {
	Type     eventType
	ID       model.ResourceID
	Status   Status
	Err      *ResourceError
	Changes  []string
	Duration time.Duration
	Outcome  executor.Outcome
}

// eventQueue is an unbounded FIFO between pass workers and the coordinator.
//
// Workers enqueue from any goroutine; only the coordinator dequeues. A worker
// reports eventStarted before eventFinished for the same resource, and FIFO
// order keeps them in that order for the coordinator.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Buffer of 1 coalesces signals.
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
	// Clear the slot so the backing array does not pin the error chain.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes the coordinator.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

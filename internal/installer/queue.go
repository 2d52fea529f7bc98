package installer

import "sync"

// eventQueue is a thread-safe FIFO buffer of progress records. It is
// unbounded: the installer emits a handful of records per install and the
// dispatcher drains on every push, so the queue never grows past the
// in-flight window.
type eventQueue struct {
	entries []Event
	mu      sync.Mutex
}

func newEventQueue() *eventQueue {
	return &eventQueue{entries: make([]Event, 0)}
}

// push appends a record to the back of the queue.
func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// drain removes and returns all queued records in FIFO order, leaving the
// queue empty. Returns nil if the queue was already empty.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	result := q.entries
	q.entries = make([]Event, 0)
	return result
}

// len returns the current number of queued records.
func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

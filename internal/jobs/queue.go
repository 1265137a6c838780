package jobs

import (
	"sync"

	"github.com/google/uuid"
)

// intakeQueue is an unbounded FIFO of job IDs for one category. push never
// blocks, so submission does not depend on worker availability.
type intakeQueue struct {
	mu     sync.Mutex
	items  []uuid.UUID
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func newIntakeQueue() *intakeQueue {
	return &intakeQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *intakeQueue) push(id uuid.UUID) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop blocks until an item is available or the queue is closed. Items left
// in a closed queue are not returned; their records stay queued in the store.
func (q *intakeQueue) pop() (uuid.UUID, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return uuid.Nil, false
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = uuid.Nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Pass the wakeup on; notify holds at most one token.
				q.signal()
			}
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *intakeQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *intakeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *intakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Package queue implements the single-producer/single-consumer message hand
// off used for each in-flight request's Upstream Events: enqueue never
// blocks the producer, dequeue blocks the one consumer up to a timeout, and
// close semantics guarantee a waiter is never handed a value that arrives
// after it has already timed out.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/aistudio-bridge/bridge/internal/protocol"
)

// ErrClosed is returned by Dequeue once the queue has been closed, per the
// close-kind error contract; events still buffered at close are not delivered.
var ErrClosed = errors.New("queue: closed")

// ErrTimeout is returned by Dequeue when no event arrives within the
// requested timeout.
var ErrTimeout = errors.New("queue: dequeue timeout")

// Queue is a bounded-logic FIFO of Upstream Events for one request id.
// If there is a waiter, the queue is guaranteed empty: Enqueue hands the
// value directly to a blocked Dequeue rather than buffering it.
type Queue struct {
	items  chan *protocol.UpstreamEvent
	closed chan struct{}
	once   sync.Once
}

// New builds an open queue with a small buffer so a producer racing ahead of
// a not-yet-waiting consumer does not stall; semantics do not depend on the
// buffer size.
func New() *Queue {
	return &Queue{
		items:  make(chan *protocol.UpstreamEvent, 8),
		closed: make(chan struct{}),
	}
}

// Enqueue adds an event. A no-op, silently, if the queue is already closed.
func (q *Queue) Enqueue(ev *protocol.UpstreamEvent) {
	select {
	case <-q.closed:
		return
	default:
	}
	select {
	case q.items <- ev:
	case <-q.closed:
	}
}

// Dequeue waits up to timeout for the next event. Returns ErrClosed if the
// queue was closed before or during the wait, with no value delivered. A
// waiter that times out never subsequently receives a value enqueued after
// the timeout fires: the select below resolves exactly one of the three
// cases and returns immediately.
func (q *Queue) Dequeue(timeout time.Duration) (*protocol.UpstreamEvent, error) {
	select {
	case <-q.closed:
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-q.items:
		if !ok {
			return nil, ErrClosed
		}
		return ev, nil
	case <-q.closed:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close closes the queue idempotently. Any blocked or future Dequeue
// returns ErrClosed; any future Enqueue becomes a no-op.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}

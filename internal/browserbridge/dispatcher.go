package browserbridge

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aistudio-bridge/bridge/internal/protocol"
	"github.com/aistudio-bridge/bridge/internal/queue"
)

// Dispatcher is the bridge-owned id->queue table. Handlers register a queue
// when they send a descriptor and unregister it once the request is done;
// Dispatch only reads the table to route incoming events, and CloseAll
// empties it on restart or shutdown.
type Dispatcher struct {
	mu     sync.RWMutex
	queues map[string]*queue.Queue
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: make(map[string]*queue.Queue)}
}

// Register associates a request id with its queue.
func (d *Dispatcher) Register(requestID string, q *queue.Queue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[requestID] = q
}

// Unregister removes a request id's queue from the table without closing it;
// callers close the queue themselves once they're done draining it.
func (d *Dispatcher) Unregister(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queues, requestID)
}

// Dispatch routes a decoded Upstream Event to its queue. Events for unknown
// ids are dropped with a warning, matching the stale-id contract.
func (d *Dispatcher) Dispatch(ev *protocol.UpstreamEvent) {
	d.mu.RLock()
	q, ok := d.queues[ev.RequestID]
	d.mu.RUnlock()
	if !ok {
		log.WithField("request_id", ev.RequestID).Warn("browserbridge: dropping event for unknown request id")
		return
	}
	q.Enqueue(ev)
}

// CloseAll enqueues a terminal error frame carrying message on every
// registered queue, then closes each one and empties the table. Used on
// restart (BrowserRestarting) and on shutdown (BrowserClosed).
func (d *Dispatcher) CloseAll(message string) {
	d.mu.Lock()
	queues := d.queues
	d.queues = make(map[string]*queue.Queue)
	d.mu.Unlock()

	for id, q := range queues {
		q.Enqueue(&protocol.UpstreamEvent{
			RequestID: id,
			Kind:      protocol.EventError,
			Message:   message,
		})
		q.Close()
	}
}

// Count reports the number of in-flight requests registered.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.queues)
}

// Package hub implements the in-memory progress broadcast registry. It is a
// disposable cache of who is currently listening to a job; the job store
// remains the single source of truth. A subscriber that connects after a job
// has been closed out reads the final state from the store instead.
package hub

import (
	"sync"

	"github.com/vklg/chatlens/internal/models"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind is treated as dead and pruned on the next publish.
const subscriberBuffer = 16

// Subscriber is one live connection receiving push updates for a single job.
type Subscriber struct {
	C      chan models.ProgressUpdate
	jobID  string
	closed bool
}

// Hub is a registry of live subscribers keyed by job id. All mutation goes
// through Subscribe, Unsubscribe, Publish and CloseJob; the subscriber sets
// are never exposed.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber for jobID and immediately queues the
// given snapshot so a late joiner never waits for the next delta.
func (h *Hub) Subscribe(jobID string, snapshot models.ProgressUpdate) *Subscriber {
	sub := &Subscriber{
		C:     make(chan models.ProgressUpdate, subscriberBuffer),
		jobID: jobID,
	}
	sub.C <- snapshot

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber whose connection has gone away. Safe to
// call after CloseJob has already dropped the job.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// Publish delivers the event to every currently-registered subscriber for
// the job. Subscribers whose buffers are full are pruned rather than allowed
// to block the worker.
func (h *Hub) Publish(jobID string, event models.ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[jobID] {
		select {
		case sub.C <- event:
		default:
			h.remove(sub)
		}
	}
}

// CloseJob delivers the terminal event to all subscribers, closes their
// channels and drops all hub state for the job id.
func (h *Hub) CloseJob(jobID string, terminal models.ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[jobID] {
		select {
		case sub.C <- terminal:
		default:
		}
		sub.closed = true
		close(sub.C)
	}
	delete(h.subs, jobID)
}

// SubscriberCount returns the number of live subscribers for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// remove unregisters and closes a subscriber. Caller must hold h.mu.
func (h *Hub) remove(sub *Subscriber) {
	set, ok := h.subs[sub.jobID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.jobID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
}

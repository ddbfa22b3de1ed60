package reconciler

import (
	"sync"
	"time"
)

// Queue is a deduplicating work queue keyed by environment ID. An ID sits in
// the queue at most once, and while a worker holds it no other worker can
// pick it up. Re-adding a held ID marks it dirty so it is processed again
// after the current pass completes. This keeps two workers from ever driving
// the same environment concurrently.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	order    []string
	queued   map[string]struct{}
	inflight map[string]struct{}
	dirty    map[string]struct{}
	timers   map[string]*time.Timer
	closed   bool
}

// NewQueue builds an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		queued:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		dirty:    make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues an ID unless it is already pending. Adding an in-flight ID
// marks it dirty for reprocessing.
func (q *Queue) Add(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.add(id)
}

func (q *Queue) add(id string) {
	if q.closed || id == "" {
		return
	}
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	if _, held := q.inflight[id]; held {
		q.dirty[id] = struct{}{}
		return
	}
	if _, pending := q.queued[id]; pending {
		return
	}
	q.queued[id] = struct{}{}
	q.order = append(q.order, id)
	q.cond.Signal()
}

// AddAfter enqueues an ID once the delay elapses. A direct Add in the
// meantime cancels the pending timer so the ID is not processed twice.
func (q *Queue) AddAfter(id string, delay time.Duration) {
	if delay <= 0 {
		q.Add(id)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || id == "" {
		return
	}
	if _, ok := q.timers[id]; ok {
		return
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, id)
		q.add(id)
	})
}

// Get blocks until an ID is available and leases it to the caller. It
// returns false once the queue is closed and drained.
func (q *Queue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.order) == 0 {
		return "", false
	}
	id := q.order[0]
	q.order = q.order[1:]
	delete(q.queued, id)
	q.inflight[id] = struct{}{}
	return id, true
}

// Done releases the lease taken by Get. If the ID was re-added while held it
// goes straight back into the queue.
func (q *Queue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	if _, ok := q.dirty[id]; ok {
		delete(q.dirty, id)
		q.add(id)
	}
}

// Len reports the number of pending IDs, excluding in-flight ones.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close stops the queue. Blocked Get calls return false; pending timers are
// cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.cond.Broadcast()
}

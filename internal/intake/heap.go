// Package intake implements the Intake Queue (IQ): an unbounded, priority-
// ordered mailbox between order creation/cancellation and the single-
// threaded Order Book, plus the stream-socket acceptor that feeds it.
// Grounded on heapq_with_removal.py's HeapQueue (threading.Lock + two
// threading.Condition objects), translated to container/heap plus a
// sync.Mutex/sync.Cond pair since Go's heap package already supplies the
// sift-up/down mechanics the source implemented by hand around heapq.
package intake

import (
	"container/heap"
	"context"
	"sync"

	"github.com/cexcore/matching-engine/internal/domain"
)

// item is one heap slot: lower priority value sorts first (min-heap over
// ClassPriority, 4.3), ties broken by timestamp ascending.
type item struct {
	msg domain.IntakeMessage
}

type priorityHeap []item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority < h[j].msg.Priority
	}
	return h[i].msg.Timestamp < h[j].msg.Timestamp
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// HeapQueue is a blocking min-heap priority queue of intake messages,
// shared between however many socket-acceptor goroutines feed it and the
// single Book-processing goroutine that drains it.
type HeapQueue struct {
	mu  sync.Mutex
	cond *sync.Cond
	h   priorityHeap
}

// NewHeapQueue constructs an empty queue.
func NewHeapQueue() *HeapQueue {
	q := &HeapQueue{}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Put enqueues msg and wakes one blocked Get.
func (q *HeapQueue) Put(msg domain.IntakeMessage) {
	q.mu.Lock()
	heap.Push(&q.h, item{msg: msg})
	q.mu.Unlock()
	q.cond.Signal()
}

// Get blocks until a message is available or ctx is cancelled.
func (q *HeapQueue) Get(ctx context.Context) (domain.IntakeMessage, bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		close(done)
		q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.h.Len() == 0 {
		select {
		case <-done:
			return domain.IntakeMessage{}, false
		default:
		}
		q.cond.Wait()
		select {
		case <-done:
			return domain.IntakeMessage{}, false
		default:
		}
	}
	it := heap.Pop(&q.h).(item)
	return it.msg, true
}

// Size reports the current queue depth, used for the intake_queue_depth
// gauge.
func (q *HeapQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

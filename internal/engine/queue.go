// Package engine contains the order execution engine: the priority queue,
// the queued executor that drives orders through the execution client, and
// the price monitor that triggers exits.
package engine

import (
	"container/heap"
	"sync"

	"github.com/solwatch/copybot/internal/domain"
)

// queueItem is one heap entry. seq preserves FIFO order among entries of equal
// priority; emergency entries sort ahead of everything else regardless of seq.
type queueItem struct {
	order     *domain.Order
	emergency bool
	seq       uint64
}

type orderHeap []*queueItem

func (h orderHeap) Len() int { return len(h) }

func (h orderHeap) Less(i, j int) bool {
	if h[i].emergency != h[j].emergency {
		return h[i].emergency
	}
	return h[i].seq < h[j].seq
}

func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *orderHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *orderHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue holds pending orders awaiting execution. Ordering is FIFO
// except that emergency orders (stop-loss exits, forced closes) jump ahead of
// every non-emergency entry. The queue rejects duplicate order IDs so a
// reclaim sweep cannot enqueue an order that is already waiting. It is safe
// for concurrent use.
type PriorityQueue struct {
	mu     sync.Mutex
	heap   orderHeap
	ids    map[string]bool
	nextSq uint64

	// wake is signalled on enqueue so the executor loop can sleep between
	// arrivals without polling tightly.
	wake chan struct{}
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		ids:  make(map[string]bool),
		wake: make(chan struct{}, 1),
	}
}

// Enqueue adds an order. Emergency orders are dequeued before any previously
// enqueued non-emergency order. Returns false when the order is already
// queued.
func (q *PriorityQueue) Enqueue(o *domain.Order, emergency bool) bool {
	q.mu.Lock()
	if q.ids[o.ID] {
		q.mu.Unlock()
		return false
	}
	q.ids[o.ID] = true
	item := &queueItem{order: o, emergency: emergency, seq: q.nextSq}
	q.nextSq++
	heap.Push(&q.heap, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the highest-priority order, or nil when the
// queue is empty.
func (q *PriorityQueue) Dequeue() *domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.ids, item.order.ID)
	return item.order
}

// Peek returns the highest-priority order without removing it, or nil when
// the queue is empty.
func (q *PriorityQueue) Peek() *domain.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].order
}

// Len returns the current queue depth.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Wake returns a channel that receives a token when an order is enqueued.
func (q *PriorityQueue) Wake() <-chan struct{} {
	return q.wake
}

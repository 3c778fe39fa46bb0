package scheduler

import (
	"context"
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/master/observability"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
)

// WorkerConnected implements worker_connected -> worker_status_returned
// (§4.2, §4.5): the Master queries the newly-paired worker's status and
// reattaches or idles it based on the reply.
func (s *Scheduler) WorkerConnected(w *registry.Worker) {
	future := w.Remote.WorkerStatus()
	future.Then(
		func(result interface{}) {
			var reply wire.WorkerStatusReply
			if err := rpc.DecodeResult(result, &reply); err != nil {
				s.logger.Printf("worker_status decode failed for %s: %v", w.ID, err)
				s.doAsync(func() { s.addIdle(w.ID) })
				return
			}
			s.doAsync(func() { s.onWorkerStatusReturned(w.ID, reply) })
		},
		func(err error) {
			s.logger.Printf("worker_status failed for %s: %v", w.ID, err)
			s.doAsync(func() { s.addIdle(w.ID) })
		},
	)
}

func (s *Scheduler) onWorkerStatusReturned(workerID string, reply wire.WorkerStatusReply) {
	switch reply.Kind {
	case wire.WorkerIdle:
		s.addIdle(workerID)

	case wire.WorkerWorking:
		// Re-register as active against the task named in the reply, if we
		// can find it; otherwise fall back to idle rather than leaking the
		// worker out of every pool (§8 invariant).
		for _, task := range s.tasks {
			if task.TaskKey != reply.TaskKey {
				continue
			}
			if reply.WorkunitKey == "" {
				task.MainWorkerID = workerID
				s.mainWorkers[workerID] = task.ID
			} else {
				task.RunningWorkers = append(task.RunningWorkers, workerID)
				s.activeWorkers[workerID] = &subtaskAssignment{taskID: task.ID, workunitKey: reply.WorkunitKey}
			}
			return
		}
		s.addIdle(workerID)

	case wire.WorkerFinished:
		s.SendResults(workerID, reply.Results, reply.WorkunitKey, false)
		s.addIdle(workerID)

	default:
		s.addIdle(workerID)
	}
}

func (s *Scheduler) addIdle(workerID string) {
	s.idle = append(s.idle, workerID)
	observability.WorkerPoolSize.WithLabelValues("idle").Set(float64(len(s.idle)))
	s.advance()
}

// RemoveWorker implements remove_worker(id) (§4.2): if the worker held a
// subtask WorkUnit, its WorkerRequest is re-enqueued; otherwise it is
// simply dropped from whichever pool held it.
func (s *Scheduler) RemoveWorker(id string) {
	s.doAsync(func() {
		s.removeFromIdle(id)

		if assignment, ok := s.activeWorkers[id]; ok {
			delete(s.activeWorkers, id)
			if task, ok := s.tasks[assignment.taskID]; ok {
				task.RemoveRunningWorker(id)
				if wu, ok := task.GetWorkUnit(assignment.workunitKey); ok {
					task.PushRequest(&model.WorkerRequest{
						TaskInstanceID: task.ID,
						SubtaskKey:     wu.SubtaskKey,
						Args:           wu.Args,
						WorkunitKey:    wu.WorkunitKey,
					})
					wu.WorkerID = ""
					wu.Status = model.StatusStopped
					s.queue.Enqueue(task)
				}
			}
		}

		if taskID, ok := s.mainWorkers[id]; ok {
			delete(s.mainWorkers, id)
			if task, ok := s.tasks[taskID]; ok {
				// The main worker vanished; a mid-flight task loses its
				// reachable main on disconnect and is marked FAILED rather
				// than waiting for the worker to reattach.
				if !task.Status.IsTerminal() {
					task.Status = model.StatusFailed
					for _, held := range append([]string(nil), task.RunningWorkers...) {
						s.releaseWorkerQuiet(held)
					}
					for _, held := range append([]string(nil), task.WaitingWorkers...) {
						s.releaseWorkerQuiet(held)
					}
					task.RunningWorkers = nil
					task.WaitingWorkers = nil
					s.finishTask(task)
				}
			}
		}

		for _, task := range s.tasks {
			if task.RemoveWaitingWorker(id) {
				break
			}
		}

		s.advance()
	})
}

func (s *Scheduler) removeFromIdle(id string) {
	for i, w := range s.idle {
		if w == id {
			s.idle = append(s.idle[:i], s.idle[i+1:]...)
			observability.WorkerPoolSize.WithLabelValues("idle").Set(float64(len(s.idle)))
			return
		}
	}
}

// Rehydrate loads TaskInstances from the store on startup (§4.1). STOPPED
// records are re-enqueued with a fresh root WorkerRequest. RUNNING records
// have no reachable main worker after a restart (no in-memory RPC
// connections survive it), so per the Open Question decision in
// SPEC_FULL.md they are marked FAILED rather than re-attached.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	recs, err := s.store.ListTaskInstancesByStatus(ctx, model.StatusStopped, model.StatusRunning)
	if err != nil {
		return err
	}

	var toFail []*model.TaskInstance
	s.do(func() {
		for _, rec := range recs {
			task := model.NewTaskInstance(rec.ID, rec.TaskKey, rec.Args, rec.Priority)
			task.QueuedAt = rec.QueuedAt
			task.SubmitTime = rec.QueuedAt

			if rec.Status == model.StatusRunning {
				task.Status = model.StatusFailed
				now := time.Now()
				task.CompletedAt = &now
				toFail = append(toFail, task)
				continue
			}

			s.tasks[rec.ID] = task
			s.queue.Enqueue(task)
		}
		s.advance()
	})

	for _, task := range toFail {
		go s.persistUpdate(task)
	}
	return nil
}

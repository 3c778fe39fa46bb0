package scheduler

import (
	"encoding/json"
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/wire"
)

// RequestWorker implements request_worker(requester_id, subtask_key, args,
// workunit_key) (§4.2): a running main worker asks for a subtask worker.
// Ignored if the requester is not a known main worker.
func (s *Scheduler) RequestWorker(requesterID, subtaskKey string, args json.RawMessage, workunitKey string) {
	s.doAsync(func() {
		taskID, ok := s.mainWorkers[requesterID]
		if !ok {
			s.logger.Printf("request_worker from non-main worker %s dropped", requesterID)
			return
		}
		task, ok := s.tasks[taskID]
		if !ok {
			return
		}
		wu := &model.WorkUnit{
			TaskInstanceID: taskID,
			SubtaskKey:     subtaskKey,
			WorkunitKey:    workunitKey,
			Args:           args,
			Status:         model.StatusStopped,
		}
		task.AddWorkUnit(wu)
		task.PushRequest(&model.WorkerRequest{
			TaskInstanceID: taskID,
			SubtaskKey:     subtaskKey,
			Args:           args,
			WorkunitKey:    workunitKey,
		})
		s.advance()
	})
}

// RequestWorkerRelease implements request_worker_release(requester_id)
// (§4.2, §4.3): the main worker signals no more workunits are forthcoming,
// so one held waiting worker (if any) is released back to idle.
func (s *Scheduler) RequestWorkerRelease(requesterID string) {
	s.doAsync(func() {
		taskID, ok := s.mainWorkers[requesterID]
		if !ok {
			return
		}
		task, ok := s.tasks[taskID]
		if !ok {
			return
		}
		workerID, ok := task.PopWaitingWorker()
		if !ok {
			return
		}
		s.releaseWorker(workerID)
	})
}

func (s *Scheduler) releaseWorker(workerID string) {
	if w, ok := s.registry.Get(workerID); ok {
		w.Remote.ReleaseWorker()
	}
	s.idle = append(s.idle, workerID)
	s.advance()
}

// SendResults implements send_results(worker_id, results, workunit_key?,
// failed) (§4.4). No-op if the worker is not recognized as active.
func (s *Scheduler) SendResults(workerID string, results []wire.ResultEntry, workunitKey string, failed bool) {
	s.doAsync(func() {
		if workunitKey != "" {
			s.routeSubtaskResult(workerID, results, workunitKey, failed)
			return
		}
		s.routeRootResult(workerID, results, failed)
	})
}

// routeSubtaskResult handles a subtask WorkUnit's results (§4.4 step 2).
func (s *Scheduler) routeSubtaskResult(workerID string, results []wire.ResultEntry, workunitKey string, failed bool) {
	var taskID int64
	if assignment, ok := s.activeWorkers[workerID]; ok {
		taskID = assignment.taskID
	} else if mid, ok := s.mainWorkers[workerID]; ok {
		// The main worker itself executed a dual-use local workunit.
		taskID = mid
	} else {
		s.logger.Printf("send_results from unrecognized worker %s dropped", workerID)
		return
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	wu, ok := task.GetWorkUnit(workunitKey)
	if !ok {
		return
	}

	now := time.Now()
	wu.CompletedAt = &now
	if failed {
		wu.Status = model.StatusFailed
	} else {
		wu.Status = model.StatusComplete
	}

	if wu.OnMainWorker {
		task.LocalWorkunit = nil
	} else {
		task.RemoveRunningWorker(workerID)
		task.WaitingWorkers = append(task.WaitingWorkers, workerID)
		delete(s.activeWorkers, workerID)
	}

	if mw, ok := s.registry.Get(task.MainWorkerID); ok {
		mw.Remote.ReceiveResults(wire.ReceiveResultsArgs{
			Results:     results,
			SubtaskKey:  wu.SubtaskKey,
			WorkunitKey: wu.WorkunitKey,
		})
	}

	if len(task.WorkerRequests) > 0 {
		s.advance()
	}
}

// routeRootResult handles completion of the root task (§4.4 step 3).
func (s *Scheduler) routeRootResult(workerID string, results []wire.ResultEntry, failed bool) {
	taskID, ok := s.mainWorkers[workerID]
	if !ok {
		s.logger.Printf("send_results (root) from unrecognized worker %s dropped", workerID)
		return
	}
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}

	if failed {
		task.Status = model.StatusFailed
	} else {
		task.Status = model.StatusComplete
	}

	delete(s.mainWorkers, workerID)
	s.idle = append(s.idle, workerID)

	for _, held := range append([]string(nil), task.WaitingWorkers...) {
		s.releaseWorkerQuiet(held)
	}
	task.WaitingWorkers = nil

	s.finishTask(task)
	s.advance()

	_ = results // result payload delivery to the submitting controller is out
	// of the Scheduler's concerns; the Task Store record carries the final
	// status for task_history/task_history_detail (§4.7).
}

// releaseWorkerQuiet returns a held worker to idle without issuing
// request_worker_release bookkeeping (used when a task finishes outright).
func (s *Scheduler) releaseWorkerQuiet(workerID string) {
	if w, ok := s.registry.Get(workerID); ok {
		w.Remote.ReleaseWorker()
	}
	s.idle = append(s.idle, workerID)
}

// WorkerStopped implements worker_stopped(worker_id) (§4.2): finalizes a
// cancellation for the worker's task if it was the main worker, then
// returns the worker to idle.
func (s *Scheduler) WorkerStopped(workerID string) {
	s.doAsync(func() {
		if taskID, isMain := s.mainWorkers[workerID]; isMain {
			delete(s.mainWorkers, workerID)
			if task, ok := s.tasks[taskID]; ok && task.Cancelling {
				task.Cancelling = false
				task.Status = model.StatusCancelled
				for _, held := range append([]string(nil), task.HeldWorkers()...) {
					if held == workerID {
						continue
					}
					s.releaseWorkerQuiet(held)
				}
				task.RunningWorkers = nil
				task.WaitingWorkers = nil
				s.finishTask(task)
			}
		}
		if assignment, ok := s.activeWorkers[workerID]; ok {
			delete(s.activeWorkers, workerID)
			if task, ok := s.tasks[assignment.taskID]; ok {
				task.RemoveRunningWorker(workerID)
				task.RemoveWaitingWorker(workerID)
			}
		}
		s.idle = append(s.idle, workerID)
		s.advance()
	})
}

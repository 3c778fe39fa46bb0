package scheduler

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/pydra/pydra/master/model"
	"github.com/pydra/pydra/master/queue"
	"github.com/pydra/pydra/master/registry"
	"github.com/pydra/pydra/master/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, context.CancelFunc) {
	t.Helper()
	sched := New(queue.New(), registry.New(), store.NewMemoryStore(), log.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return sched, cancel
}

func TestQueueTaskEnqueuesWithNoWorkersAvailable(t *testing.T) {
	sched, cancel := newTestScheduler(t)
	defer cancel()

	task, err := sched.QueueTask(context.Background(), "demo.task", nil, 5)
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}
	if task.Status != model.StatusStopped {
		t.Fatalf("expected a freshly queued task to stay STOPPED absent any worker, got %v", task.Status)
	}

	active := sched.ListActive()
	if len(active) != 1 || active[0].ID != task.ID {
		t.Fatalf("expected task %d in active set, got %v", task.ID, active)
	}
}

func TestQueueTaskRejectsInvalidForm(t *testing.T) {
	sched, cancel := newTestScheduler(t)
	defer cancel()

	if _, err := sched.QueueTask(context.Background(), "", nil, 5); err == nil {
		t.Fatal("expected validation error for empty task key")
	}
	if _, err := sched.QueueTask(context.Background(), "demo.task", nil, 99); err == nil {
		t.Fatal("expected validation error for out-of-range priority")
	}
}

func TestCancelStoppedTaskIsImmediate(t *testing.T) {
	sched, cancel := newTestScheduler(t)
	defer cancel()

	task, err := sched.QueueTask(context.Background(), "demo.task", nil, 5)
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	sched.CancelTask(task.ID)

	// CancelTask is posted asynchronously to the reactor; give it a beat
	// to drain before asserting.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sched.GetTask(task.ID); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := sched.GetTask(task.ID); ok {
		t.Fatal("expected a STOPPED task's cancellation to remove it from the active set immediately")
	}
}

// TestCancelRunningTaskFinalizesOnWorkerStopped drives a RUNNING task
// through cancel_task/worker_stopped (§4.2, §8 scenario 3) without a live
// worker connection: the held worker is never registered, so CancelTask's
// stop_task fan-out is a silent no-op and only the Cancelling bookkeeping
// matters. Asserts the task reaches CANCELLED and the main worker is left
// in exactly one pool (idle, not mainWorkers) afterward.
func TestCancelRunningTaskFinalizesOnWorkerStopped(t *testing.T) {
	sched, cancel := newTestScheduler(t)
	defer cancel()

	task, err := sched.QueueTask(context.Background(), "demo.task", nil, 5)
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	const workerID = "w1"
	sched.do(func() {
		sched.queue.Remove(task)
		task.Status = model.StatusRunning
		task.MainWorkerID = workerID
		sched.mainWorkers[workerID] = task.ID
	})

	sched.CancelTask(task.ID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var cancelling bool
		sched.do(func() { cancelling = task.Cancelling })
		if cancelling {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	var cancellingAfterFanout bool
	sched.do(func() { cancellingAfterFanout = task.Cancelling })
	if !cancellingAfterFanout {
		t.Fatal("expected CancelTask's RUNNING branch to mark the task Cancelling")
	}
	if task.Status != model.StatusRunning {
		t.Fatalf("expected the task to stay RUNNING until worker_stopped acks, got %v", task.Status)
	}

	sched.WorkerStopped(workerID)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sched.GetTask(task.ID); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := sched.GetTask(task.ID); ok {
		t.Fatal("expected worker_stopped to finalize the cancelled task and remove it from the active set")
	}
	if task.Status != model.StatusCancelled {
		t.Fatalf("expected task.Status to reach CANCELLED, got %v", task.Status)
	}

	sched.do(func() {
		if _, stillMain := sched.mainWorkers[workerID]; stillMain {
			t.Error("expected the worker to be removed from mainWorkers once its task finished")
		}
		found := false
		for _, id := range sched.idle {
			if id == workerID {
				found = true
			}
		}
		if !found {
			t.Error("expected the worker to be returned to the idle pool")
		}
	})
}

func TestCancelTaskIsIdempotent(t *testing.T) {
	sched, cancel := newTestScheduler(t)
	defer cancel()

	task, err := sched.QueueTask(context.Background(), "demo.task", nil, 5)
	if err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	sched.CancelTask(task.ID)
	sched.CancelTask(task.ID) // must not panic or double-finish
	sched.CancelTask(999999)  // unknown id, must be a silent no-op
}

package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pydra/pydra/worker/tasks"
)

// execution is one workunit currently running on this worker process. It
// implements tasks.Runtime, giving the Runner a way to spawn subtasks and
// check the cooperative STOP flag.
type execution struct {
	coord *Coordinator

	taskInstanceID int64
	taskKey        string // the parent TaskInstance's key, for worker_status reattachment
	subtaskKey     string
	workunitKey    string
	isMain         bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func (e *execution) stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Stopped implements tasks.Runtime.
func (e *execution) Stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Spawn implements tasks.Runtime: issues request_worker for a subtask and
// returns a channel fed by the Coordinator once receive_results (or a
// failed dispatch) arrives for the generated workunit key.
func (e *execution) Spawn(subtaskKey string, args json.RawMessage) <-chan tasks.Result {
	e.coord.mu.Lock()
	e.coord.seq++
	key := fmt.Sprintf("%d.%s.%d", e.taskInstanceID, subtaskKey, e.coord.seq)
	ch := make(chan tasks.Result, 1)
	e.coord.pending[key] = ch
	e.coord.mu.Unlock()

	e.coord.master.RequestWorker(subtaskKey, args, key).Then(nil, func(err error) {
		e.coord.mu.Lock()
		_, stillPending := e.coord.pending[key]
		delete(e.coord.pending, key)
		e.coord.mu.Unlock()
		if stillPending {
			ch <- tasks.Result{Failed: true}
		}
	})

	return ch
}

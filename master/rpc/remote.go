package rpc

import (
	"encoding/json"

	"github.com/pydra/pydra/wire"
)

// RemoteWorker is a typed view over a paired Conn exposing exactly the
// sealed set of remote methods the Master is allowed to invoke on a
// Node/Worker (§9): run_task, stop_task, task_status, worker_status,
// receive_results, release_worker, kill_worker. Each call returns a
// Future; the Scheduler attaches Then callbacks rather than blocking.
type RemoteWorker struct {
	ID   string
	conn *Conn
}

// NewRemoteWorker wraps a paired connection as a callable remote handle.
func NewRemoteWorker(id string, conn *Conn) *RemoteWorker {
	return &RemoteWorker{ID: id, conn: conn}
}

// RunTask issues run_task (§4.2 step 5).
func (r *RemoteWorker) RunTask(args wire.RunTaskArgs) *Future {
	return r.conn.Call(wire.MethodRunTask, args)
}

// StopTask issues stop_task, the cooperative cancellation signal (§5).
func (r *RemoteWorker) StopTask(taskInstanceID int64) *Future {
	return r.conn.Call(wire.MethodStopTask, map[string]int64{"task_instance_id": taskInstanceID})
}

// TaskStatus issues task_status, used by the Status Aggregator (§4.7).
func (r *RemoteWorker) TaskStatus(taskInstanceID int64) *Future {
	return r.conn.Call(wire.MethodTaskStatus, map[string]int64{"task_instance_id": taskInstanceID})
}

// WorkerStatus issues worker_status during reconnect recovery (§4.5).
func (r *RemoteWorker) WorkerStatus() *Future {
	return r.conn.Call(wire.MethodWorkerStatus, struct{}{})
}

// ReceiveResults forwards a subtask's results to the main worker (§4.4).
func (r *RemoteWorker) ReceiveResults(args wire.ReceiveResultsArgs) *Future {
	return r.conn.Call(wire.MethodReceiveResults, args)
}

// ReleaseWorker issues release_worker, freeing a held worker (§4.3).
func (r *RemoteWorker) ReleaseWorker() *Future {
	return r.conn.Call(wire.MethodReleaseWorker, struct{}{})
}

// KillWorker issues kill_worker, escalating past the cooperative STOP flag
// (§5, §9 supplemented feature): the node is expected to SIGTERM and, if
// unresponsive, SIGKILL the worker process.
func (r *RemoteWorker) KillWorker() *Future {
	return r.conn.Call(wire.MethodKillWorker, struct{}{})
}

// DecodeResult is a helper for Future success callbacks that need a typed
// result rather than the raw json.RawMessage the transport hands back.
func DecodeResult(raw interface{}, out interface{}) error {
	data, ok := raw.(json.RawMessage)
	if !ok {
		var err error
		data, err = json.Marshal(raw)
		if err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

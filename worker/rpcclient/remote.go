package rpcclient

import (
	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
)

// RemoteMaster exposes the Worker->Master half of the sealed method set
// (§9): request_worker, request_worker_release, send_results,
// worker_stopped. Mirrors master/rpc.RemoteWorker from the other side of
// the connection.
type RemoteMaster struct {
	conn *rpc.Conn
}

// RequestWorker issues request_worker, creating a WorkUnit on the Master
// and queueing a WorkerRequest for it (§4.2, §4.3).
func (m *RemoteMaster) RequestWorker(subtaskKey string, args []byte, workunitKey string) *rpc.Future {
	return m.conn.Call(wire.MethodRequestWorker, wire.RequestWorkerArgs{
		SubtaskKey:  subtaskKey,
		Args:        args,
		WorkunitKey: workunitKey,
	})
}

// RequestWorkerRelease issues request_worker_release, signalling that the
// main worker has no more subtask work to generate (§4.2 step "the main
// worker signals request_worker_release").
func (m *RemoteMaster) RequestWorkerRelease() *rpc.Future {
	return m.conn.Call(wire.MethodRequestWorkerRelease, struct{}{})
}

// SendResults issues send_results, reporting one or more completed
// workunits back to the Master (§4.4).
func (m *RemoteMaster) SendResults(results []wire.ResultEntry, workunitKey string, failed bool) *rpc.Future {
	return m.conn.Call(wire.MethodSendResults, wire.SendResultsArgs{
		Results:     results,
		WorkunitKey: workunitKey,
		Failed:      failed,
	})
}

// WorkerStopped acks a stop_task, letting the Master complete the
// two-phase cancellation for this task (§5 Cancellation).
func (m *RemoteMaster) WorkerStopped() *rpc.Future {
	return m.conn.Call(wire.MethodWorkerStopped, struct{}{})
}

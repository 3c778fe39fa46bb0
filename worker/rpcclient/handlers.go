package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pydra/pydra/master/rpc"
	"github.com/pydra/pydra/wire"
)

// Handlers is the Master->Worker sealed method set (§9): run_task,
// stop_task, task_status, worker_status, receive_results, release_worker,
// kill_worker. A nil field rejects calls to that method with an error
// rather than panicking.
type Handlers struct {
	RunTask        func(ctx context.Context, args wire.RunTaskArgs) error
	StopTask       func(ctx context.Context, taskInstanceID int64) error
	TaskStatus     func(ctx context.Context, taskInstanceID int64) (interface{}, error)
	WorkerStatus   func(ctx context.Context) (wire.WorkerStatusReply, error)
	ReceiveResults func(ctx context.Context, args wire.ReceiveResultsArgs) error
	ReleaseWorker  func(ctx context.Context) error
	KillWorker     func(ctx context.Context) error
}

func registerHandlers(conn *rpc.Conn, h Handlers) {
	conn.HandleFunc(wire.MethodRunTask, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if h.RunTask == nil {
			return nil, fmt.Errorf("rpcclient: no run_task handler registered")
		}
		var args wire.RunTaskArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("rpcclient: invalid run_task payload: %w", err)
		}
		if err := h.RunTask(ctx, args); err != nil {
			return nil, err
		}
		return true, nil
	})

	conn.HandleFunc(wire.MethodStopTask, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if h.StopTask == nil {
			return nil, fmt.Errorf("rpcclient: no stop_task handler registered")
		}
		var req struct {
			TaskInstanceID int64 `json:"task_instance_id"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("rpcclient: invalid stop_task payload: %w", err)
		}
		if err := h.StopTask(ctx, req.TaskInstanceID); err != nil {
			return nil, err
		}
		return true, nil
	})

	conn.HandleFunc(wire.MethodTaskStatus, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if h.TaskStatus == nil {
			return nil, fmt.Errorf("rpcclient: no task_status handler registered")
		}
		var req struct {
			TaskInstanceID int64 `json:"task_instance_id"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("rpcclient: invalid task_status payload: %w", err)
		}
		return h.TaskStatus(ctx, req.TaskInstanceID)
	})

	conn.HandleFunc(wire.MethodWorkerStatus, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		if h.WorkerStatus == nil {
			return nil, fmt.Errorf("rpcclient: no worker_status handler registered")
		}
		return h.WorkerStatus(ctx)
	})

	conn.HandleFunc(wire.MethodReceiveResults, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		if h.ReceiveResults == nil {
			return nil, fmt.Errorf("rpcclient: no receive_results handler registered")
		}
		var args wire.ReceiveResultsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("rpcclient: invalid receive_results payload: %w", err)
		}
		if err := h.ReceiveResults(ctx, args); err != nil {
			return nil, err
		}
		return true, nil
	})

	conn.HandleFunc(wire.MethodReleaseWorker, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		if h.ReleaseWorker == nil {
			return nil, fmt.Errorf("rpcclient: no release_worker handler registered")
		}
		if err := h.ReleaseWorker(ctx); err != nil {
			return nil, err
		}
		return true, nil
	})

	conn.HandleFunc(wire.MethodKillWorker, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		if h.KillWorker == nil {
			return nil, fmt.Errorf("rpcclient: no kill_worker handler registered")
		}
		if err := h.KillWorker(ctx); err != nil {
			return nil, err
		}
		return true, nil
	})
}
